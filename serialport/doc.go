// Package serialport provides the serial device access layer for go-weighbridge.
//
// The package defines the minimal Port contract the reading pipeline depends on
// (bounded reads, input-buffer reset, timeout control) and implements it on top
// of go.bug.st/serial. Weighing indicators attach as plain RS-232 or USB-serial
// devices; line settings default to 8 data bits, no parity, one stop bit, which
// every supported indicator variant uses.
//
// # Bounded Reads
//
// All reads are bounded: after SetReadTimeout(d), a Read that observes no data
// for d returns (0, nil) rather than blocking. The reading pipeline relies on
// this to poll the device without ever blocking indefinitely.
//
// # Enumeration
//
// List reports the serial devices present on the host, including the port
// description and hardware identifier when the platform exposes them. The
// daemon prints this table at startup so a misconfigured port name is easy
// to spot.
package serialport
