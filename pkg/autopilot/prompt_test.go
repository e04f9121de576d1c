package autopilot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildIterationPromptFirstIteration(t *testing.T) {
	p := buildIterationPrompt(1, "add a healthcheck endpoint", "", 0)
	assert.True(t, strings.HasPrefix(p, "add a healthcheck endpoint"))
	assert.Contains(t, p, CompletionCue)
	assert.NotContains(t, p, "previous output")
}

func TestBuildIterationPromptQuotesPreviousTail(t *testing.T) {
	p := buildIterationPrompt(3, "add a healthcheck endpoint", "wired the route, tests pending", 0)
	assert.Contains(t, p, "iteration 3")
	assert.Contains(t, p, "add a healthcheck endpoint")
	assert.Contains(t, p, "wired the route, tests pending")
	assert.Contains(t, p, CompletionCue)
}

func TestBuildIterationPromptBoundsTail(t *testing.T) {
	long := strings.Repeat("x", 500) + "TAIL-MARKER"
	p := buildIterationPrompt(2, "task", long, 50)
	assert.Contains(t, p, "TAIL-MARKER")
	assert.NotContains(t, p, strings.Repeat("x", 100))
}

func TestBuildIterationPromptSkipsEmptyTail(t *testing.T) {
	p := buildIterationPrompt(2, "task", "   ", 100)
	assert.NotContains(t, p, "previous output")
}

func TestLastChars(t *testing.T) {
	assert.Equal(t, "abc", lastChars("  abc  ", 10))
	assert.Equal(t, "cde", lastChars("abcde", 3))
	assert.Equal(t, "", lastChars("", 3))
}
