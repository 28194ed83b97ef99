package utils

import (
	"strings"
	"testing"
)

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatalf("NewTokenCounter: %v", err)
	}

	if got := counter.CountTokens(""); got != 0 {
		t.Errorf("empty text = %d tokens, want 0", got)
	}
	if got := counter.CountTokens("hello world"); got < 1 || got > 4 {
		t.Errorf("hello world = %d tokens, expected a small count", got)
	}
}

func TestNilCounterFallsBack(t *testing.T) {
	var counter *TokenCounter
	if got := counter.CountTokens("12345678"); got != 2 {
		t.Errorf("fallback estimate = %d, want 2", got)
	}
}

func TestValidateTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatalf("NewTokenCounter: %v", err)
	}
	text := strings.Repeat("word ", 100)
	if !counter.ValidateTokenLimit(text, 1000) {
		t.Error("text should fit in 1000 tokens")
	}
	if counter.ValidateTokenLimit(text, 10) {
		t.Error("text should not fit in 10 tokens")
	}
}

func TestTruncateToTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatalf("NewTokenCounter: %v", err)
	}

	short := "short text"
	if got := counter.TruncateToTokenLimit(short, 100); got != short {
		t.Errorf("short text should not be truncated, got %q", got)
	}

	long := strings.Repeat("lorem ipsum dolor ", 500)
	truncated := counter.TruncateToTokenLimit(long, 50)
	if len(truncated) >= len(long) {
		t.Error("long text was not truncated")
	}
	if !strings.HasSuffix(truncated, "...") {
		t.Error("truncated text should end with ellipsis")
	}
	if !counter.ValidateTokenLimit(truncated, 60) {
		t.Errorf("truncated text still too long: %d tokens", counter.CountTokens(truncated))
	}
}
