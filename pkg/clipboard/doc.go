// Package clipboard provides the shared domain types for clipsync: clipboard
// entries, devices, users and the error taxonomy used across the server.
//
// # Overview
//
// A user owns a set of devices. Any device may push a clipboard Entry; the
// server keeps a bounded per-user history and forwards the entry to the
// user's other devices, either live over a websocket or on the next pull.
//
// # Wire format
//
// Entries travel as JSON objects:
//
//	{"data": "hello", "type": "Text", "date": 1717171717171}
//
// The empty entry, returned by a pull when nothing is pending, is:
//
//	{"data": "", "type": "None", "date": 0}
//
// Device types form a closed set with explicit names: IOS, Android, Windows,
// Mac and Linux. Unknown names are rejected with ErrInvalidDeviceType rather
// than mapped to a default.
//
// # Errors
//
// Every error returned by clipsync packages wraps one of ErrInvalidInput,
// ErrNotFound, ErrUpstream or ErrSessionFault, so callers classify failures
// with errors.Is:
//
//	if errors.Is(err, clipboard.ErrNotFound) {
//		// unknown user or device
//	}
package clipboard
