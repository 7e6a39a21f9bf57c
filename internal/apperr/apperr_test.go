package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(CodeConfigMissing, "agentpack.yaml not found")
	want := "E_CONFIG_MISSING: agentpack.yaml not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestFromErrorUnwrapsChain(t *testing.T) {
	inner := Newf(CodeOverlayNotFound, "no overlay for %s", "prompt:one")
	wrapped := fmt.Errorf("compose module: %w", inner)

	got := FromError(wrapped)
	if got.Code != CodeOverlayNotFound {
		t.Errorf("code = %q, want %q", got.Code, CodeOverlayNotFound)
	}
}

func TestFromErrorUnclassified(t *testing.T) {
	got := FromError(errors.New("boom"))
	if got.Code != CodeUnexpected {
		t.Errorf("code = %q, want %q", got.Code, CodeUnexpected)
	}
	if got.Message != "boom" {
		t.Errorf("message = %q, want %q", got.Message, "boom")
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", New(CodeConfirmRequired, "refusing to apply"))
	if !Is(err, CodeConfirmRequired) {
		t.Error("Is(CodeConfirmRequired) = false, want true")
	}
	if Is(err, CodeConfirmTokenExpired) {
		t.Error("Is(CodeConfirmTokenExpired) = true, want false")
	}
	if Is(errors.New("plain"), CodeConfirmRequired) {
		t.Error("Is on plain error = true, want false")
	}
}

func TestWithDetail(t *testing.T) {
	err := New(CodeDesiredStateConflict, "conflict").
		WithDetail("target", "codex").
		WithDetail("path", "/t/codex/prompts/p.md")
	if err.Details["target"] != "codex" {
		t.Errorf("details[target] = %v, want codex", err.Details["target"])
	}
	if len(err.Details) != 2 {
		t.Errorf("details len = %d, want 2", len(err.Details))
	}
}
