package chat

import "regexp"

// secretPattern is one redaction rule applied to generated replies before
// they leave the service.
type secretPattern struct {
	name  string
	regex *regexp.Regexp
}

// secretPatterns covers the credential shapes this system itself handles
// (provider API keys, GitHub tokens) plus a generic bearer form. Matches are
// replaced wholesale; partial masking leaks length.
var secretPatterns = []secretPattern{
	{name: "groq_api_key", regex: regexp.MustCompile(`gsk_[A-Za-z0-9]{52,}`)},
	{name: "openai_api_key", regex: regexp.MustCompile(`sk-[A-Za-z0-9]{48,}`)},
	{name: "github_token", regex: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`)},
	{name: "google_api_key", regex: regexp.MustCompile(`AIza[A-Za-z0-9_\-]{35}`)},
	{name: "bearer_token", regex: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.=]{20,}`)},
}

const redactedPlaceholder = "[REDACTED]"

// redactSecrets masks credential-shaped substrings in s.
func redactSecrets(s string) string {
	for _, p := range secretPatterns {
		s = p.regex.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// stripHTML removes markup tags from a reply; models occasionally wrap output
// in HTML despite instructions.
func stripHTML(s string) string {
	return htmlTagPattern.ReplaceAllString(s, "")
}
