package extraction

import (
	"strings"

	"github.com/omnix-ai/recall-go/pkg/memory"
)

// hedgingPhrases mark uncertain language. Any occurrence lowers confidence.
var hedgingPhrases = []string{
	"maybe", "perhaps", "might", "possibly", "probably",
	"i think", "i guess", "not sure", "could be", "sort of", "kind of",
}

// specificMarkers mark concrete, identifying language. Any occurrence raises
// confidence.
var specificMarkers = []string{
	"my name is", "i am ", "i'm ", "i live", "i work", "i was born",
	"every day", "always", "never",
}

// AdjustQuality applies the heuristic confidence adjustment to one extracted
// memory: +0.1 for specific identifying language, -0.2 for hedging language,
// clamped to [0,1]. Digits and named entities count as specific language.
func AdjustQuality(content string, confidence float64) float64 {
	lower := strings.ToLower(content)

	for _, phrase := range hedgingPhrases {
		if strings.Contains(lower, phrase) {
			confidence -= 0.2
			break
		}
	}

	if hasSpecificLanguage(content, lower) {
		confidence += 0.1
	}
	return memory.Clamp01(confidence)
}

// QualityCeiling returns the highest confidence the content's language
// supports: hedged statements cap at 0.6, everything else at 1.0.
func QualityCeiling(content string) float64 {
	lower := strings.ToLower(content)
	for _, phrase := range hedgingPhrases {
		if strings.Contains(lower, phrase) {
			return 0.6
		}
	}
	return 1.0
}

func hasSpecificLanguage(content, lower string) bool {
	for _, marker := range specificMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	if strings.ContainsAny(content, "0123456789") {
		return true
	}
	return len(ExtractEntities(content)) > 0
}
