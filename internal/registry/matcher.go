// Package registry provides the immutable instruction and module registries
// that back the dialogue engine.
//
// This file defines the matcher capability used by instructions. Matchers are
// declared in the script configuration and resolved to concrete variants at
// load time; there is no runtime dispatch on message content beyond the single
// matcher of the user's current instruction.
package registry

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher decides whether an incoming message satisfies an instruction.
type Matcher interface {
	Match(message string) bool
}

// Matcher kinds accepted by the script configuration.
const (
	MatcherKindAny     = "any"
	MatcherKindKeyword = "keyword"
	MatcherKindRegex   = "regex"
	MatcherKindEmail   = "email"
)

// emailPattern is intentionally permissive; the goal is answer capture, not
// RFC 5322 validation.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// NewMatcher creates a matcher of the given kind. Pattern is required for
// regex matchers, keywords for keyword matchers; both are ignored otherwise.
func NewMatcher(kind, pattern string, keywords []string) (Matcher, error) {
	switch kind {
	case MatcherKindAny, "":
		return anyMatcher{}, nil
	case MatcherKindKeyword:
		if len(keywords) == 0 {
			return nil, fmt.Errorf("keyword matcher requires at least one keyword")
		}
		lowered := make([]string, len(keywords))
		for i, kw := range keywords {
			lowered[i] = strings.ToLower(strings.TrimSpace(kw))
		}
		return keywordMatcher{keywords: lowered}, nil
	case MatcherKindRegex:
		if pattern == "" {
			return nil, fmt.Errorf("regex matcher requires a pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("regex matcher pattern invalid: %w", err)
		}
		return regexMatcher{re: re}, nil
	case MatcherKindEmail:
		return regexMatcher{re: emailPattern}, nil
	default:
		return nil, fmt.Errorf("unknown matcher kind %q", kind)
	}
}

// anyMatcher accepts any non-blank message.
type anyMatcher struct{}

func (anyMatcher) Match(message string) bool {
	return strings.TrimSpace(message) != ""
}

// keywordMatcher accepts a message containing at least one of its keywords.
type keywordMatcher struct {
	keywords []string
}

func (m keywordMatcher) Match(message string) bool {
	lowered := strings.ToLower(message)
	for _, kw := range m.keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// regexMatcher accepts a message matching its compiled expression. The message
// is trimmed first so trailing whitespace from chat clients does not reject an
// otherwise valid answer.
type regexMatcher struct {
	re *regexp.Regexp
}

func (m regexMatcher) Match(message string) bool {
	return m.re.MatchString(strings.TrimSpace(message))
}
