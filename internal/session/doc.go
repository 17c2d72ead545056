// Package session drives one scanner through the scan workflow of the open
// book.
//
// The Controller is an explicit state machine:
//
//	Idle -> DeviceSelected -> Configuring -> Previewing -> Scanning -> Committed
//
// Failed is reachable from every non-terminal state and Reset returns
// Failed or Committed sessions to Idle. Acquisition is sequential and runs on
// the caller's goroutine; Cancel, Status and the rejection of overlapping
// operations work from any other goroutine. Captured leaves stay in memory
// until Commit hands them to the assembly engine, so a failed or cancelled
// scan never leaves pages behind.
package session
