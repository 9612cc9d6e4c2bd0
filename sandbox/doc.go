// Package sandbox provides isolated code execution behind a message protocol.
//
// A Sandbox accepts execute requests and reports lifecycle progress and
// results as protocol messages. The Worker hosts a Runtime and runs requests
// one at a time. Runtimes are available for local processes (development
// only), Podman or Docker through their CLI, and Docker through its Go SDK
// with a long-lived hardened container. Remote runs a Worker in a separate
// codelab-worker process and speaks JSON lines over its stdio.
//
// Usage:
//
//	factory, err := sandbox.NewFactory(logger, cfg)
//	sb, err := factory()
//	err = sb.Start(ctx)
//	err = sb.Post(protocol.Request{ID: "1", Code: "print(1)"})
//	for msg := range sb.Messages() {
//	    // loading, ready, result or error
//	}
package sandbox
