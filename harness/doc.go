// Package harness runs code against ordered test cases and judges the results.
//
// RunTests appends each test's input snippet to the submitted code, executes
// the composite program through an Executor one test at a time and
// evaluates the output against the expected value. A failing or erroring
// test never stops the remaining ones, and the result list always matches
// the test list in length and order.
//
// Output comparison trims leading and trailing whitespace only. Any
// execution error fails the test even when the output matches.
package harness
