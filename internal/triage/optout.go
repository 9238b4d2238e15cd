package triage

import "strings"

// OptOut is the result of scanning a reply for unsubscribe keywords.
type OptOut struct {
	IsOptOut   bool   `json:"is_opt_out"`
	Keyword    string `json:"keyword,omitempty"`
	Confidence string `json:"confidence,omitempty"`
}

var (
	optOutExact = map[string]struct{}{
		"STOP": {}, "STOPALL": {}, "STOP ALL": {}, "UNSUBSCRIBE": {}, "QUIT": {},
		"CANCEL ALL": {}, "END": {}, "OPTOUT": {}, "OPT OUT": {},
	}
	optOutPhrases = []string{"DONT TEXT", "DON'T TEXT", "NO MORE TEXTS", "REMOVE ME", "STOP TEXTING"}
)

// DetectOptOut reports carrier-style opt-out replies. Whole-message keywords
// are high confidence and binding; looser phrases are medium confidence and
// only flagged for staff.
func DetectOptOut(text string) OptOut {
	upper := strings.ToUpper(strings.ReplaceAll(text, "’", "'"))
	token := strings.Trim(strings.TrimSpace(upper), ".!")
	if _, ok := optOutExact[token]; ok {
		return OptOut{IsOptOut: true, Keyword: token, Confidence: "high"}
	}
	for _, phrase := range optOutPhrases {
		if strings.Contains(upper, phrase) {
			return OptOut{Keyword: phrase, Confidence: "medium"}
		}
	}
	return OptOut{}
}
