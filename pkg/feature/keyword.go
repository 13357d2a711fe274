package feature

import (
	"regexp"
	"strings"
)

// keyword is one description-text indicator: the feature it sets and the
// phrases that set it. Matching is whole-word and case-insensitive.
type keyword struct {
	name    string
	phrases []string
	re      *regexp.Regexp
}

var keywords = compileKeywords([]keyword{
	{name: KeywordRCE, phrases: []string{"remote code execution", "rce", "arbitrary code", "execute code"}},
	{name: KeywordPrivesc, phrases: []string{"privilege escalation", "privesc"}},
	{name: KeywordAuthBypass, phrases: []string{"authentication bypass", "auth bypass"}},
	{name: KeywordSSRF, phrases: []string{"ssrf", "server-side request forgery"}},
	{name: KeywordSQLi, phrases: []string{"sql injection", "sqli"}},
	{name: KeywordXSS, phrases: []string{"cross-site scripting", "xss"}},
	{name: KeywordDeser, phrases: []string{"deserialization", "insecure deserialization"}},
	{name: KeywordTraversal, phrases: []string{"path traversal", "directory traversal"}},
})

func compileKeywords(list []keyword) []keyword {
	for i := range list {
		quoted := make([]string, 0, len(list[i].phrases))
		for _, p := range list[i].phrases {
			quoted = append(quoted, regexp.QuoteMeta(p))
		}
		list[i].re = regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	}
	return list
}

func keywordNames() []string {
	names := make([]string, 0, len(keywords))
	for _, k := range keywords {
		names = append(names, k.name)
	}
	return names
}

// matchKeywords evaluates every indicator independently against text.
func matchKeywords(text string) map[string]int {
	hits := make(map[string]int, len(keywords))
	for _, k := range keywords {
		if k.re.MatchString(text) {
			hits[k.name] = 1
			continue
		}
		hits[k.name] = 0
	}
	return hits
}
