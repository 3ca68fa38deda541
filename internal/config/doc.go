// Package config loads treesync configuration files.
//
// A file may be JSON, YAML or TOML; the extension picks the format. Every
// field is optional and durations are strings such as "50ms" or "5m".
//
//	server:
//	  address: ":8080"
//	  tcpAddress: ":9090"
//	  retainFor: 10m
//	session:
//	  debounce: 50ms
//	source:
//	  root: ./site
//	  pollInterval: 1s
//	redis:
//	  address: localhost:6379
//	log:
//	  level: debug
//
// Usage:
//
//	cfg, err := config.Load("treesync.yaml")
//	if err != nil {
//	    errors.PrintError(os.Stderr, err)
//	    os.Exit(1)
//	}
//	srvCfg, _ := cfg.ServerConfig()
package config
