// Package errors defines the coded errors treesync reports to operators.
//
// Every code belongs to a category:
//   - config: configuration files and values (E1xx)
//   - load: documents, sources and snapshot stores (E2xx)
//   - protocol: sync streams and wire messages (E3xx)
//   - replay: edit scripts and document records (E4xx)
//   - cli: command line usage (E5xx)
//
// Usage:
//
//	err := errors.New("E103").
//	    WithLocation("treesync.yaml", 7, 0).
//	    WithDetail("server.writeTimeout: time: invalid duration \"ten\"").
//	    WithSuggestion("Use a Go duration such as 10s or 1m30s")
//
//	errors.PrintError(os.Stderr, err)
//	// ERROR E103: Invalid configuration value
//	//
//	//   treesync.yaml:7
//	//
//	//   server.writeTimeout: time: invalid duration "ten"
//	//
//	//   Hint: Use a Go duration such as 10s or 1m30s
package errors
