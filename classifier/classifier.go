package classifier

import (
	"regexp"
	"strings"
)

const fenceMarker = "```"

// Submission is a classified snippet. It is immutable once returned by Classify.
type Submission struct {
	RawContent       string
	CleanedCode      string
	DeclaredLanguage string // lowercased fence tag, empty when absent
	InferredLanguage Language
}

// Runnable reports whether the run action is available for the submission.
// An explicit fence tag naming a language outside the executable set
// disables it, even though the content heuristics still pick a language.
func (s Submission) Runnable() bool {
	if s.DeclaredLanguage == "" {
		return s.InferredLanguage.Valid()
	}
	_, ok := ParseLanguage(s.DeclaredLanguage)
	return ok
}

var (
	pythonMarkers     = []string{"def ", "import ", "print("}
	pythonMainGuard   = regexp.MustCompile(`__name__\s*==\s*['"]__main__['"]`)
	typeScriptMarkers = []string{": string", ": number", ": boolean"}
	typeScriptDecl    = regexp.MustCompile(`(?m)(^|[\s;{}(])(interface\s+[A-Za-z_$][\w$]*|type\s+[A-Za-z_$][\w$]*(\s*<[^>]*>)?\s*=)`)
	typeScriptGeneric = regexp.MustCompile(`<[^<>]*\bextends\b[^<>]*>`)
)

// Classify strips an optional fence from raw and determines the language.
// It is a pure function of its input.
func Classify(raw string) Submission {
	sub := Submission{RawContent: raw, CleanedCode: raw}

	tag, body, fenced := splitFence(raw)
	if fenced {
		sub.CleanedCode = body
		sub.DeclaredLanguage = tag
		if lang, ok := ParseLanguage(tag); ok {
			sub.InferredLanguage = lang
			return sub
		}
	}

	sub.InferredLanguage = Infer(sub.CleanedCode)
	return sub
}

// Infer classifies code by content alone. The first matching rule wins:
// python markers, then typescript markers, then javascript as the default.
func Infer(code string) Language {
	for _, marker := range pythonMarkers {
		if strings.Contains(code, marker) {
			return Python
		}
	}
	if pythonMainGuard.MatchString(code) {
		return Python
	}

	for _, marker := range typeScriptMarkers {
		if strings.Contains(code, marker) {
			return TypeScript
		}
	}
	if typeScriptDecl.MatchString(code) || typeScriptGeneric.MatchString(code) {
		return TypeScript
	}

	return JavaScript
}

// splitFence returns the lowercased tag and the lines strictly between the
// fence markers. fenced is false when raw is not wrapped in a fence.
func splitFence(raw string) (tag, body string, fenced bool) {
	trimmed := strings.TrimRight(raw, " \t\r\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return "", "", false
	}

	first := strings.TrimSpace(lines[0])
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(first, fenceMarker) || last != fenceMarker {
		return "", "", false
	}

	tag = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(first, fenceMarker)))
	inner := lines[1 : len(lines)-1]
	for i, line := range inner {
		inner[i] = strings.TrimSuffix(line, "\r")
	}
	return tag, strings.Join(inner, "\n"), true
}

// WithLanguage returns a copy of s pinned to lang, as if the snippet had
// been fenced with its canonical tag.
func (s Submission) WithLanguage(lang Language) Submission {
	s.DeclaredLanguage = lang.String()
	s.InferredLanguage = lang
	return s
}
