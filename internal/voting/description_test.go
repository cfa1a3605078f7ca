package voting

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "Build a park", "Build a park", false},
		{"trim and collapse", "  Build \t a\n\npark  ", "Build a park", false},
		{"control chars", "Build\x00 a park\x07", "Build a park", false},
		{"nfc", "Café renovation", "Café renovation", false},
		{"empty", "", "", true},
		{"whitespace only", " \n\t ", "", true},
		{"invalid utf8", "bad\xff", "", true},
		{"too long", strings.Repeat("a", MaxDescriptionLength+1), "", true},
		{"max length", strings.Repeat("é", MaxDescriptionLength), strings.Repeat("é", MaxDescriptionLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDescription(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDescription) {
					t.Fatalf("expected ErrInvalidDescription, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeDescription() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeDescription(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDescriptionKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Nový  Park", "novy park"},
		{"BUILD a park", "build a park"},
		{"Žluťoučký kůň", "zlutoucky kun"},
	}

	for _, tt := range tests {
		if got := DescriptionKey(tt.input); got != tt.want {
			t.Errorf("DescriptionKey(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNoFaceDetected, "no_face_detected"},
		{fmt.Errorf("%w: tx reverted", ErrAlreadyVoted), "already_voted"},
		{ErrVoteInProgress, "vote_in_progress"},
		{fmt.Errorf("%w: %w", ErrNotInitialized, ErrAdminMismatch), "admin_mismatch"},
		{ErrAdminOnly, "admin_only"},
		{ErrInvalidProposal, "invalid_proposal"},
		{ErrSubmissionFailed, "submission_failed"},
		{ErrModelInitFailed, "model_init_failed"},
		{errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
