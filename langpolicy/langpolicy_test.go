package langpolicy

import (
	"errors"
	"testing"
)

func TestValidateAccepts(t *testing.T) {
	cases := [][]string{
		{"en"},
		{"ch_tra"},
		{"ja"},
		{"en", "ch_tra"},
		{"ja", "en"},
		{"en", "fr"},
		{"EN", " de "},
		{"en", "en", "fr"}, // duplicates collapse
	}

	for _, langs := range cases {
		set, err := Validate(langs)
		if err != nil {
			t.Errorf("Validate(%v) rejected: %v", langs, err)
			continue
		}
		if len(set) == 0 {
			t.Errorf("Validate(%v) returned empty set", langs)
		}
		if len(set) > 1 && set[0] != Universal {
			t.Errorf("Validate(%v) = %v, expected universal language first", langs, set)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name  string
		langs []string
	}{
		{"empty", nil},
		{"blank entries", []string{"", "  "}},
		{"unknown id", []string{"xx"}},
		{"unknown with valid", []string{"en", "klingon"}},
		{"too many", []string{"en", "fr", "de"}},
		{"two cjk scripts", []string{"ja", "ko"}},
		{"pair without english", []string{"fr", "de"}},
	}

	for _, tc := range cases {
		_, err := Validate(tc.langs)
		if err == nil {
			t.Errorf("%s: Validate(%v) accepted, expected rejection", tc.name, tc.langs)
			continue
		}
		var pv *PolicyViolationError
		if !errors.As(err, &pv) {
			t.Errorf("%s: expected PolicyViolationError, got %T: %v", tc.name, err, err)
		}
	}
}

func TestValidateNormalizesOrder(t *testing.T) {
	set, err := Validate([]string{"ch_tra", "en"})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if set[0] != "en" || set[1] != "ch_tra" {
		t.Errorf("expected [en ch_tra], got %v", set)
	}
}
