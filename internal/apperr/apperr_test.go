package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Invalid("send", "empty content"), Validation},
		{"forbidden", Forbidden("edit", "not the sender"), Authorization},
		{"missing", Missing("send", "user %d not found", 9), NotFound},
		{"conflict", Conflicting("consume", "link exhausted"), Conflict},
		{"wrapped", fmt.Errorf("outer: %w", Missing("get", "gone")), NotFound},
		{"plain", errors.New("boom"), Internal},
		{"store", Store("insert", errors.New("disk full")), Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("handler: %w", Forbidden("delete", "only the sender may delete"))
	if !errors.Is(err, &Error{Kind: Authorization}) {
		t.Error("errors.Is should match by kind")
	}
	if errors.Is(err, &Error{Kind: NotFound}) {
		t.Error("errors.Is should not match a different kind")
	}
}

func TestMessageHidesInternal(t *testing.T) {
	if got := Message(Store("insert", errors.New("constraint failed: secret"))); got != "internal error" {
		t.Errorf("Message() = %q, want internal error", got)
	}
	if got := Message(Invalid("send", "content too long")); got != "content too long" {
		t.Errorf("Message() = %q, want content too long", got)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Transient, "push", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}
