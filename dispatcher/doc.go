// Package dispatcher turns the asynchronous sandbox message protocol into
// blocking, timeout-bounded calls.
//
// Every Execute call registers a pending entry under a fresh id, posts the
// code to the sandbox and waits for the result carrying that id, its
// deadline or its context, whichever comes first. Calls may run
// concurrently; results are matched purely by id. A fatal sandbox error
// settles every outstanding call and later calls fail fast until
// Reinitialize builds a fresh sandbox.
//
// Usage:
//
//	d := dispatcher.New(logger, factory, dispatcher.WithTimeout(10*time.Second))
//	if err := d.Start(ctx); err != nil {
//	    return err
//	}
//	defer d.Close()
//	res := d.Execute(ctx, "print(1 + 2)")
package dispatcher
