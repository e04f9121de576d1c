package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "auth_token: {{.OBSERVER_TOKEN}}",
			env:   map[string]string{"OBSERVER_TOKEN": "secret123"},
			want:  "auth_token: secret123",
		},
		{
			name:  "literal ${VAR} is not expanded",
			input: "pattern: ${USER_ID}",
			env:   map[string]string{"USER_ID": "123"},
			want:  "pattern: ${USER_ID}",
		},
		{
			name:  "literal $ in regex preserved",
			input: "regex: ^secret.*$",
			want:  "regex: ^secret.*$",
		},
		{
			name:  "multiple substitutions in one line",
			input: "grpc_target: {{.LLM_HOST}}:{{.LLM_PORT}}",
			env:   map[string]string{"LLM_HOST": "llm.internal", "LLM_PORT": "9090"},
			want:  "grpc_target: llm.internal:9090",
		},
		{
			name:  "missing variable expands to empty",
			input: "auth_token: {{.MISSING_VAR}}",
			want:  "auth_token: ",
		},
		{
			name: "nested yaml structure",
			input: `journal:
  dir: {{.SESSIONS_DIR}}
server:
  addr: ":{{.HTTP_PORT}}"`,
			env: map[string]string{"SESSIONS_DIR": "/var/lib/taskpilot", "HTTP_PORT": "8080"},
			want: `journal:
  dir: /var/lib/taskpilot
server:
  addr: ":8080"`,
		},
		{
			name:  "special characters in expanded value",
			input: "auth_token: {{.TOKEN}}",
			env:   map[string]string{"TOKEN": "p@ssw0rd!#$%"},
			want:  "auth_token: p@ssw0rd!#$%",
		},
		{
			name:  "no substitution when no variables",
			input: "static: value",
			env:   map[string]string{"UNUSED": "value"},
			want:  "static: value",
		},
		{
			name:  "empty string variable",
			input: "value: {{.EMPTY}}",
			env:   map[string]string{"EMPTY": ""},
			want:  "value: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}

func TestExpandEnvWithEmptyInput(t *testing.T) {
	assert.Equal(t, "", string(ExpandEnv(nil)))
}

// Malformed template syntax is passed through unchanged so the YAML parser
// can fail with a clearer error message (or accept the text as a literal).
func TestExpandEnvMalformedTemplates(t *testing.T) {
	inputs := []string{
		"auth_token: {{.TOKEN",
		"auth_token: {{",
		"auth_token: {{.TOKEN}",
		"auth_token: }}.TOKEN{{",
		"auth_token: {{.TOKEN | upper}}",
		"key1: {{.VAR1\nkey2: {{.VAR2}",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			t.Setenv("TOKEN", "should-not-appear")
			t.Setenv("VAR1", "should-not-appear")
			t.Setenv("VAR2", "should-not-appear")

			result := ExpandEnv([]byte(input))
			assert.Equal(t, input, string(result))
			assert.NotContains(t, string(result), "should-not-appear")
		})
	}
}

// A malformed template inside otherwise valid YAML still parses: the
// pass-through turns it into a string literal.
func TestExpandEnvPassThroughToYAMLParser(t *testing.T) {
	input := `
server:
  addr: ":8080"
observer:
  auth_token: "{{.TOKEN"
`
	var result map[string]any
	err := yaml.Unmarshal(ExpandEnv([]byte(input)), &result)
	assert.NoError(t, err)
	assert.NotNil(t, result)
}
