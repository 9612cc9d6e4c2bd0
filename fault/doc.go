// Package fault defines the failure taxonomy of the execution engine.
//
// Every failure the engine can observe falls into one of four kinds:
// initialization faults (the isolated runtime could not start), execution
// faults (the submitted code raised), timeout faults (the caller-side deadline
// expired) and protocol faults (a malformed or unknown message). Faults are
// converted into values at the Execute and RunTests boundaries; this package
// only gives them a shape that can be inspected with errors.Is and errors.As.
package fault
