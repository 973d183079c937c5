// Package twin keeps the local device-twin view in step with the hub.
//
// A Synchronizer owns the Document, sends reported-property patches
// one at a time in FIFO order and tracks writable properties. When a
// desired push names a writable property, its UpdateFunc runs in its
// own goroutine and the outcome is reported as
//
//	{"<name>": {"value": v, "status": s, "desiredVersion": n}}
//
// where n is the $version of the push that started that update, even
// when later pushes have arrived meanwhile. Desired properties with no
// registered writable property are recorded in the Document but
// otherwise ignored.
package twin
