package coordinator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// scoreRegex matches an integer, optionally followed by whitespace, at the
// end of a line.
var scoreRegex = regexp.MustCompile(`([+-]?\d+)\s*$`)

// parseReviewScore extracts the 0-100 score from the last line of a review
// and the critique from everything before it.
func parseReviewScore(text string) (score int, critique string, err error) {
	text = strings.TrimRight(text, "\n\r ")
	if text == "" {
		return 0, "", fmt.Errorf("empty review text")
	}

	lastNewline := strings.LastIndex(text, "\n")
	lastLine := text
	if lastNewline != -1 {
		lastLine = text[lastNewline+1:]
	}

	match := scoreRegex.FindStringSubmatch(lastLine)
	if match == nil {
		return 0, "", fmt.Errorf("no numeric score on last line: %q", lastLine)
	}
	score, err = strconv.Atoi(match[1])
	if err != nil {
		return 0, "", fmt.Errorf("parse score %q: %w", match[1], err)
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	if lastNewline != -1 {
		critique = strings.TrimSpace(text[:lastNewline])
	}
	return score, critique, nil
}
