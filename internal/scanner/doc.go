// Package scanner is the scan device adapter.
//
// A Backend enumerates attached devices and opens a Handle that acquires one
// leaf per call. Two backends exist: Sane drives the scanimage command line
// frontend, Fake synthesises numbered pages for tests and demos. Requests are
// checked against a device's advertised capabilities by Validate before any
// hardware is touched; unsupported values are rejected, never clamped.
//
// Areas are expressed in SANE fixed-point millimetres (1 mm = 65536 units),
// the unit scanners report their bed size in.
package scanner
