// Package langpolicy validates the OCR language selection for a run.
// Validation is pure: no model is consulted and nothing is loaded.
package langpolicy

import (
	"fmt"
	"strings"
)

// Universal is the language that may be combined with any other selectable language.
const Universal = "en"

// MaxLanguages is the largest language set a single run accepts.
var MaxLanguages = 2

// Language describes a selectable OCR language.
type Language struct {
	ID     string
	Name   string
	Script string
}

// Known lists the selectable languages with their script families.
var Known = map[string]Language{
	"en":     {ID: "en", Name: "English", Script: "latin"},
	"ch_tra": {ID: "ch_tra", Name: "Chinese (Traditional)", Script: "chinese"},
	"ja":     {ID: "ja", Name: "Japanese", Script: "japanese"},
	"ko":     {ID: "ko", Name: "Korean", Script: "korean"},
	"fr":     {ID: "fr", Name: "French", Script: "latin"},
	"de":     {ID: "de", Name: "German", Script: "latin"},
}

// scriptConflicts lists script families that can never appear together in one
// set. The CJK engines share no recognition model, so they only combine with
// the universal language.
var scriptConflicts = map[string][]string{
	"chinese":  {"japanese", "korean"},
	"japanese": {"chinese", "korean"},
	"korean":   {"chinese", "japanese"},
}

// LanguageSet is a validated, normalized language selection. The universal
// language, when present, sorts first.
type LanguageSet []string

// Contains reports whether id is part of the set.
func (s LanguageSet) Contains(id string) bool {
	for _, l := range s {
		if l == id {
			return true
		}
	}
	return false
}

// PolicyViolationError reports a language selection the policy rejects.
type PolicyViolationError struct {
	Reason string
}

func (e *PolicyViolationError) Error() string {
	return "language policy violation: " + e.Reason
}

func violation(format string, args ...interface{}) error {
	return &PolicyViolationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the requested language identifiers against the policy and
// returns the normalized set: trimmed, lowercased, de-duplicated, universal
// language first.
func Validate(requested []string) (LanguageSet, error) {
	var set LanguageSet
	seen := make(map[string]bool)
	for _, raw := range requested {
		id := strings.ToLower(strings.TrimSpace(raw))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		set = append(set, id)
	}

	if len(set) == 0 {
		return nil, violation("no languages selected")
	}

	for _, id := range set {
		if _, ok := Known[id]; !ok {
			return nil, violation("unknown language %q", id)
		}
	}

	if len(set) > MaxLanguages {
		return nil, violation("at most %d languages may be combined, got %d", MaxLanguages, len(set))
	}

	for i := 0; i < len(set); i++ {
		for j := i + 1; j < len(set); j++ {
			a, b := Known[set[i]].Script, Known[set[j]].Script
			if conflicts(a, b) {
				return nil, violation("scripts %s and %s cannot be combined", a, b)
			}
		}
	}

	if len(set) > 1 && !set.Contains(Universal) {
		return nil, violation("a language pair must include %s", Universal)
	}

	// Normalize order: universal first, remaining selection order preserved.
	if len(set) > 1 && set[0] != Universal {
		for i, id := range set {
			if id == Universal {
				set[0], set[i] = set[i], set[0]
				break
			}
		}
	}

	return set, nil
}

func conflicts(a, b string) bool {
	for _, s := range scriptConflicts[a] {
		if s == b {
			return true
		}
	}
	return false
}
