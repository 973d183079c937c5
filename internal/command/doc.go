// Package command routes direct-method invocations to their handlers.
//
// Each Registration is either Sync or Async:
//
//	Sync:  Received -> Executed -> Responded
//	Async: Received -> Acknowledged(202) -> Running -> Completed
//
// A Sync handler returns the Response the dispatcher sends. An Async
// handler is started only after the 202 acknowledgement was sent; it
// reports its result through the twin, never through the method
// response. Response send failures are logged and dropped.
package command
