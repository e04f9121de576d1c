package autopilot

import (
	"fmt"
	"strings"
)

// CompletionCue is the explicit cue appended to continuation prompts telling
// the model how to declare that it is finished. The analyzer treats the same
// sentinel as full-strength completion evidence.
const CompletionCue = "When the task is fully complete, end your reply with the line: TASK COMPLETED"

// DefaultContextTailChars bounds how much of the previous response is quoted
// back into the next prompt.
const DefaultContextTailChars = 4000

// buildIterationPrompt shapes the prompt for iteration n. The first iteration
// sends the initial prompt as-is (plus the completion cue); later iterations
// restate the task and quote a bounded tail of the previous output so the
// model can pick up where it left off.
func buildIterationPrompt(n int, taskPrompt, previousOutput string, tailChars int) string {
	if tailChars <= 0 {
		tailChars = DefaultContextTailChars
	}
	if n <= 1 {
		return taskPrompt + "\n\n" + CompletionCue
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Continue working on this task (iteration %d):\n%s\n\n", n, taskPrompt)
	if tail := lastChars(previousOutput, tailChars); tail != "" {
		b.WriteString("Your previous output ended with:\n---\n")
		b.WriteString(tail)
		b.WriteString("\n---\n\n")
	}
	b.WriteString("Pick up from where you left off. ")
	b.WriteString(CompletionCue)
	return b.String()
}

// lastChars returns the trailing tail of s, at most n bytes, trimmed.
func lastChars(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
