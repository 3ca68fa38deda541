package errors

import (
	"sort"
	"sync"
)

// Template is the registered text of an error code.
type Template struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Template{
		// Configuration
		"E101": {
			Category:   CategoryConfig,
			Message:    "Configuration file not found",
			Suggestion: "Pass an existing file with --config or omit the flag to use defaults",
		},
		"E102": {
			Category: CategoryConfig,
			Message:  "Configuration file could not be parsed",
		},
		"E103": {
			Category: CategoryConfig,
			Message:  "Invalid configuration value",
		},
		"E104": {
			Category:   CategoryConfig,
			Message:    "Unsupported configuration format",
			Suggestion: "Use a .json, .yaml, .yml or .toml file",
		},

		// Loading
		"E201": {
			Category: CategoryLoad,
			Message:  "Document not found",
		},
		"E202": {
			Category: CategoryLoad,
			Message:  "Document could not be loaded",
		},
		"E203": {
			Category:   CategoryLoad,
			Message:    "Unsupported source scheme",
			Suggestion: "Use a plain path, a file:// URL or, with S3 configured, an s3:// URL",
		},
		"E204": {
			Category:   CategoryLoad,
			Message:    "Snapshot store unavailable",
			Suggestion: "Check store.redis.address or run without a redis store",
		},

		// Protocol
		"E301": {
			Category: CategoryProtocol,
			Message:  "Could not connect to the sync endpoint",
		},
		"E302": {
			Category: CategoryProtocol,
			Message:  "Malformed sync message",
		},
		"E303": {
			Category:   CategoryProtocol,
			Message:    "Invalid open options",
			Suggestion: "A document URL is required",
		},
		"E304": {
			Category: CategoryProtocol,
			Message:  "Server failed",
		},

		// Replay
		"E401": {
			Category: CategoryReplay,
			Message:  "Edit script did not apply",
			Detail:   "An action referenced a node that does not exist in the target document.",
		},
		"E402": {
			Category: CategoryReplay,
			Message:  "Invalid document",
		},

		// CLI
		"E501": {
			Category:   CategoryCLI,
			Message:    "Invalid arguments",
			Suggestion: "Run with --help for usage",
		},
		"E502": {
			Category: CategoryCLI,
			Message:  "Could not write output",
		},
	}
)

// Codes returns every registered code in order.
func Codes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template registered for code.
func GetTemplate(code string) (Template, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := registry[code]
	return t, ok
}

// Register adds or replaces a template.
func Register(code string, t Template) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = t
}
