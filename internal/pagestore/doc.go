// Package pagestore holds the ordered pages of the open book.
//
// Positions are dense and zero-based after every mutation, page ids are
// assigned by the store and never reused, and every mutation is reported to
// observers synchronously before the call returns.
package pagestore
