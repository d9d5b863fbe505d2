package middleware

import (
	"strings"
	"testing"
)

func TestValidateConversationID(t *testing.T) {
	t.Parallel()

	if err := ValidateConversationID("conv-1"); err != nil {
		t.Fatalf("valid ID rejected: %v", err)
	}
	if err := ValidateConversationID(""); err == nil {
		t.Fatal("empty ID accepted")
	}
	if err := ValidateConversationID(strings.Repeat("x", 65)); err == nil {
		t.Fatal("oversized ID accepted")
	}
}

func TestValidateMessageBody(t *testing.T) {
	t.Parallel()

	if err := ValidateMessageBody("hello"); err != nil {
		t.Fatalf("valid body rejected: %v", err)
	}
	if err := ValidateMessageBody(""); err == nil {
		t.Fatal("empty body accepted")
	}
	if err := ValidateMessageBody(strings.Repeat("x", 100001)); err == nil {
		t.Fatal("oversized body accepted")
	}
	if err := ValidateMessageBody("\xff\xfe"); err == nil {
		t.Fatal("invalid UTF-8 accepted")
	}
}

func TestValidatePrompt(t *testing.T) {
	t.Parallel()

	if err := ValidatePrompt("User: hi\nCounselor:"); err != nil {
		t.Fatalf("valid prompt rejected: %v", err)
	}
	if err := ValidatePrompt(""); err == nil {
		t.Fatal("empty prompt accepted")
	}
}
