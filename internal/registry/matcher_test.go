package registry

import "testing"

func TestAnyMatcher(t *testing.T) {
	m, err := NewMatcher(MatcherKindAny, "", nil)
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}
	if !m.Match("hello") {
		t.Errorf("expected any matcher to accept text")
	}
	if m.Match("   \t ") {
		t.Errorf("expected any matcher to reject blank input")
	}
}

func TestKeywordMatcher(t *testing.T) {
	m, err := NewMatcher(MatcherKindKeyword, "", []string{"Yes", "sure"})
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}
	if !m.Match("YES please") {
		t.Errorf("expected case-insensitive keyword match")
	}
	if !m.Match("sure thing") {
		t.Errorf("expected keyword match on second keyword")
	}
	if m.Match("absolutely not") {
		t.Errorf("expected no match without keywords")
	}
}

func TestKeywordMatcherRequiresKeywords(t *testing.T) {
	if _, err := NewMatcher(MatcherKindKeyword, "", nil); err == nil {
		t.Errorf("expected error for keyword matcher without keywords")
	}
}

func TestRegexMatcher(t *testing.T) {
	m, err := NewMatcher(MatcherKindRegex, `^\d{5}$`, nil)
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}
	if !m.Match(" 12345 ") {
		t.Errorf("expected trimmed regex match")
	}
	if m.Match("1234") {
		t.Errorf("expected no match for short input")
	}
}

func TestRegexMatcherInvalidPattern(t *testing.T) {
	if _, err := NewMatcher(MatcherKindRegex, "([", nil); err == nil {
		t.Errorf("expected error for invalid regex pattern")
	}
}

func TestEmailMatcher(t *testing.T) {
	m, err := NewMatcher(MatcherKindEmail, "", nil)
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}
	if !m.Match("alice@example.com") {
		t.Errorf("expected email to match")
	}
	if m.Match("not an email") {
		t.Errorf("expected plain text to be rejected")
	}
	if m.Match("a@b") {
		t.Errorf("expected address without domain dot to be rejected")
	}
}

func TestUnknownMatcherKind(t *testing.T) {
	if _, err := NewMatcher("telepathy", "", nil); err == nil {
		t.Errorf("expected error for unknown matcher kind")
	}
}
