package answer

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/civickit/k311/internal/civic"
	"github.com/civickit/k311/internal/log"
)

func TestContentWords(t *testing.T) {
	got := ContentWords("When is my garbage collected in Kingston?")
	want := []string{"garbage", "collected"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ContentWords = %v, want %v", got, want)
	}
}

func TestPreCheck(t *testing.T) {
	v := NewValidator(&fakeGen{}, log.NewNop())

	// Out-of-scope sentinel is never relevant.
	if v.PreCheck("anything at all", "some context", civic.CategoryNone) {
		t.Error("out-of-scope category must fail the pre-check")
	}

	// Too few content words: pass without judging.
	if !v.PreCheck("garbage day?", "totally unrelated text", civic.CategoryWasteCollection) {
		t.Error("short questions must pass the pre-check")
	}

	// Overlap required otherwise.
	if !v.PreCheck("when are property taxes due this year",
		"Property taxes are due in two installments.", civic.CategoryPropertyTax) {
		t.Error("overlapping question should pass")
	}
	if v.PreCheck("how do I renew my marriage licence downtown",
		"Garbage is collected weekly on designated days.", civic.CategoryPropertyTax) {
		t.Error("zero-overlap question should fail")
	}
}

func TestValidateParsesVerdicts(t *testing.T) {
	cases := []struct {
		raw          string
		wantRelevant bool
		wantReason   string
	}{
		{"YES", true, ""},
		{"yes: directly answers the question", true, "directly answers the question"},
		{"NO: talks about parking instead", false, "talks about parking instead"},
		{"NO.\nThe answer drifts off topic.", false, ""},
	}

	for _, tc := range cases {
		v := NewValidator(&fakeGen{replies: []string{tc.raw}}, log.NewNop())
		got := v.Validate(context.Background(), "q", "a", civic.CategoryParking)
		if got.Relevant != tc.wantRelevant || got.Reason != tc.wantReason {
			t.Errorf("Validate(%q) = %+v, want relevant=%v reason=%q", tc.raw, got, tc.wantRelevant, tc.wantReason)
		}
		if got.Confidence != 1.0 {
			t.Errorf("parsed verdict confidence = %v, want 1.0", got.Confidence)
		}
	}
}

func TestValidateFailsOpen(t *testing.T) {
	// Generation error.
	v := NewValidator(&fakeGen{err: errors.New("model down")}, log.NewNop())
	got := v.Validate(context.Background(), "q", "a", civic.CategoryParking)
	if !got.Relevant || got.Confidence != 0.5 {
		t.Fatalf("error path = %+v, want fail-open", got)
	}

	// Unparseable verdict.
	v = NewValidator(&fakeGen{replies: []string{"MAYBE, hard to say"}}, log.NewNop())
	got = v.Validate(context.Background(), "q", "a", civic.CategoryParking)
	if !got.Relevant || got.Confidence != 0.5 {
		t.Fatalf("unparseable path = %+v, want fail-open", got)
	}
}
