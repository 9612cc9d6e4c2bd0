// Package main is the entry point for the Codelab server.
//
// Codelab runs learner code in an isolated sandbox and evaluates it against
// ordered test cases. One sandbox session lives for the whole process: it
// is started with the application and torn down on shutdown. The engine is
// exposed as MCP tools over stdio or streamable HTTP, or as a REST API,
// depending on server.transport.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
