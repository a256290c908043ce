package notify

import (
	"strings"
	"testing"
	"time"
)

func TestSignupCode(t *testing.T) {
	msg := SignupCode("a@x.com", "<alice>", "482910", 10*time.Minute)
	if msg.To != "a@x.com" {
		t.Errorf("To = %q", msg.To)
	}
	if !strings.Contains(msg.Text, "482910") || !strings.Contains(msg.HTML, "482910") {
		t.Error("code missing from body")
	}
	if !strings.Contains(msg.Text, "10 minutes") {
		t.Errorf("text = %q, want expiry minutes", msg.Text)
	}
	if strings.Contains(msg.HTML, "<alice>") || !strings.Contains(msg.HTML, "&lt;alice&gt;") {
		t.Error("username must be escaped in HTML")
	}
}

func TestReuseAlert_UnknownMeta(t *testing.T) {
	msg := ReuseAlert("a@x.com", "alice", time.Unix(0, 0), "", "")
	if !strings.Contains(msg.Text, "unknown") {
		t.Errorf("text = %q, want unknown placeholders", msg.Text)
	}
	if msg.Subject == "" {
		t.Error("subject must be set")
	}
}

func TestMinutes(t *testing.T) {
	if minutes(30*time.Second) != 1 {
		t.Error("sub-minute TTL should round up to 1")
	}
	if minutes(10*time.Minute) != 10 {
		t.Error("10m should be 10")
	}
}
