package analyzer

import (
	"regexp"

	"github.com/taskpilot-ai/taskpilot/pkg/models"
)

// patternFamily binds a family tag to its detection regexes and its weight in
// the confidence combination. Families are ordered by descending weight;
// explicit completion contributes positively, the middle three negatively,
// and iterative improvement is informational only.
type patternFamily struct {
	family   models.PatternFamily
	weight   float64
	patterns []*regexp.Regexp
}

// completionSentinel is the explicit cue the loop's prompts ask the model to
// emit when it judges the task finished.
var completionSentinel = regexp.MustCompile(`(?i)\bTASK[ _]COMPLETED\b`)

var families = []patternFamily{
	{
		family: models.PatternExplicitCompletion,
		weight: 0.40,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bTASK[ _]COMPLETED\b`),
			regexp.MustCompile(`(?i)\btask is (?:now )?complete\b`),
			regexp.MustCompile(`(?i)\ball (?:tests pass|done|requirements (?:are )?met)\b`),
			regexp.MustCompile(`(?i)\bsuccessfully (?:completed|implemented|finished)\b`),
			regexp.MustCompile(`(?i)\bimplementation is (?:complete|finished)\b`),
			regexp.MustCompile(`(?i)\bnothing (?:further|else|more) (?:to do|remains|is needed)\b`),
		},
	},
	{
		family: models.PatternTaskPending,
		weight: 0.25,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bnext,? (?:I(?:'ll| will)|step|we)\b`),
			regexp.MustCompile(`(?i)\bstill (?:need|needs|remaining|have) to\b`),
			regexp.MustCompile(`(?i)\bremaining (?:work|steps|tasks|items)\b`),
			regexp.MustCompile(`(?i)\bTODO\b`),
			regexp.MustCompile(`(?i)\bnot (?:yet|fully) (?:done|complete|implemented)\b`),
			regexp.MustCompile(`(?i)\bcontinu(?:e|ing) (?:with|to|on)\b`),
		},
	},
	{
		family: models.PatternErrorNeedsFixing,
		weight: 0.20,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\berror\b`),
			regexp.MustCompile(`(?i)\bfail(?:s|ed|ure|ing)?\b`),
			regexp.MustCompile(`(?i)\bexception\b`),
			regexp.MustCompile(`(?i)\btraceback\b`),
			regexp.MustCompile(`panic:`),
			regexp.MustCompile(`(?i)\bcannot\b.{0,40}\b(?:build|compile|run|find)\b`),
			regexp.MustCompile(`(?i)\bbroken\b`),
		},
	},
	{
		family: models.PatternClarificationNeeded,
		weight: 0.10,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bcould you (?:clarify|confirm|specify)\b`),
			regexp.MustCompile(`(?i)\bwhich (?:option|approach|version|one) (?:do you|would you|should)\b`),
			regexp.MustCompile(`(?i)\bdo you want (?:me )?to\b`),
			regexp.MustCompile(`(?i)\bshould I\b.{0,80}\?`),
			regexp.MustCompile(`(?i)\bplease (?:provide|confirm|clarify)\b`),
		},
	},
	{
		family: models.PatternIterativeImprovement,
		weight: 0.05,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:improve|improving|optimize|optimizing|refactor|refactoring|enhance|polishing)\b`),
			regexp.MustCompile(`(?i)\bcould be (?:better|cleaner|faster)\b`),
		},
	},
}

// maxEvidencePerFamily bounds stored evidence snippets per family.
const maxEvidencePerFamily = 3

// detect scans text against every family and returns matches for the families
// that fired, preserving family order.
func detect(text string) []models.PatternMatch {
	var matches []models.PatternMatch
	for _, fam := range families {
		count := 0
		var evidence []string
		for _, re := range fam.patterns {
			found := re.FindAllString(text, -1)
			count += len(found)
			for _, hit := range found {
				if len(evidence) < maxEvidencePerFamily {
					evidence = append(evidence, hit)
				}
			}
		}
		if count > 0 {
			matches = append(matches, models.PatternMatch{
				Family:     fam.family,
				MatchCount: count,
				Evidence:   evidence,
			})
		}
	}
	return matches
}

// familyWeight returns the configured weight for a family.
func familyWeight(f models.PatternFamily) float64 {
	for _, fam := range families {
		if fam.family == f {
			return fam.weight
		}
	}
	return 0
}
