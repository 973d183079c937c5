// Package diagnostics implements the rundiagnostics async command.
//
// Each invocation starts an independent Run: a bounded periodic task
// of three ticks two seconds apart. The final tick reports
//
//	{"rundiagnostics": {"value": "Diagnostics run complete at <RFC3339>"}}
//
// through the twin. Nothing is reported before the final tick, and a
// run cannot be cancelled once started.
package diagnostics
