// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and CODELAB_* environment variables. It
// covers the server transport, logging, the execution sandbox, per-language
// runtime settings and the test suite directory.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox backend: %s\n", cfg.Sandbox.Backend)
package config
