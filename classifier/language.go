package classifier

import (
	"strings"
)

// Language is the closed set of languages the orchestrator can execute.
// The zero value is Unknown and is never produced by Classify.
type Language int

const (
	Unknown Language = iota
	Python
	JavaScript
	TypeScript
)

// Language name constants
const (
	NamePython     = "python"
	NameJavaScript = "javascript"
	NameTypeScript = "typescript"
)

// Languages returns every executable language.
func Languages() []Language {
	return []Language{Python, JavaScript, TypeScript}
}

// String returns the canonical lowercase name.
func (l Language) String() string {
	switch l {
	case Python:
		return NamePython
	case JavaScript:
		return NameJavaScript
	case TypeScript:
		return NameTypeScript
	default:
		return "unknown"
	}
}

// Valid reports whether l is one of the executable languages.
func (l Language) Valid() bool {
	return l == Python || l == JavaScript || l == TypeScript
}

// ParseLanguage canonicalizes a fence tag or language name.
// Matching is case-insensitive and accepts the py, js and ts aliases.
func ParseLanguage(tag string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "python", "py":
		return Python, true
	case "javascript", "js":
		return JavaScript, true
	case "typescript", "ts":
		return TypeScript, true
	default:
		return Unknown, false
	}
}
