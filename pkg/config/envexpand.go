package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes environment variables into YAML content using Go
// template syntax: {{.OBSERVER_TOKEN}} becomes the value of OBSERVER_TOKEN.
// Plain ${VAR} and bare $ stay untouched, so regex patterns and passwords
// containing $ survive expansion.
//
// Missing variables become the empty string; validation catches required
// fields left empty. Malformed template syntax returns the input unchanged
// and lets the YAML parser produce the error.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
