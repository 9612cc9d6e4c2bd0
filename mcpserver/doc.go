// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The server exposes the engine as MCP tools. execute_code runs a program
// once, run_tests runs it against caller-supplied test cases and run_suite
// runs it against a registered suite. sandbox_status reports the sandbox
// lifecycle and restart_sandbox replaces a failed or stuck sandbox. Tool
// results are JSON text. Execution failures and unknown
// suites are reported as error results rather than protocol errors.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, eng)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
