package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("quota check", "account_id", "acct-1", "allowed", true)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "quota check" {
		t.Errorf("expected msg field, got %v", entry["msg"])
	}
	if entry["account_id"] != "acct-1" {
		t.Errorf("expected account_id attribute, got %v", entry["account_id"])
	}
}

func TestNew_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "text", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("server started", "address", ":8080")

	out := buf.String()
	if !strings.Contains(out, "msg=") || !strings.Contains(out, "address=:8080") {
		t.Errorf("unexpected text output: %s", out)
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Debug("suppressed")
	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected sub-warn records suppressed, got %s", buf.String())
	}

	logger.Warn("emitted")
	if buf.Len() == 0 {
		t.Error("expected warn record to be emitted")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"debug", false},
		{"info", false},
		{"WARN", false},
		{"warning", false},
		{"error", false},
		{"", false},
		{"verbose", true},
	}
	for _, tc := range cases {
		if _, err := parseLevel(tc.in); (err != nil) != tc.wantErr {
			t.Errorf("parseLevel(%q): unexpected err=%v", tc.in, err)
		}
	}
}
