package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

type maskRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Card numbers are masked before phones so long digit runs are not read as phones.
var transcriptRules = []maskRule{
	{emailPattern, "[email]"},
	{cardPattern, "[card]"},
	{phonePattern, "[phone]"},
}

// RedactTranscript masks contact and payment details in a transcript before it
// leaves the process. It returns the masked text and the number of replacements.
func RedactTranscript(transcript string) (string, int) {
	out := transcript
	total := 0
	for _, rule := range transcriptRules {
		n := len(rule.pattern.FindAllStringIndex(out, -1))
		if n == 0 {
			continue
		}
		total += n
		out = rule.pattern.ReplaceAllString(out, rule.marker)
	}
	return out, total
}
