package quota

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestLimit_UnlimitedIsDistinctVariant(t *testing.T) {
	// Unlimited must never be expressible as a finite count, however large.
	if Limited(999999).IsUnlimited() {
		t.Error("a large finite limit must not be unlimited")
	}
	if !Unlimited().IsUnlimited() {
		t.Error("Unlimited() must report IsUnlimited")
	}
}

func TestLimit_ValidateRejectsNegative(t *testing.T) {
	if err := Limited(-1).Validate(); err == nil {
		t.Error("expected error for negative limit")
	}
	if err := Limited(0).Validate(); err != nil {
		t.Errorf("zero is a valid limit: %v", err)
	}
	if err := Unlimited().Validate(); err != nil {
		t.Errorf("unlimited is a valid limit: %v", err)
	}
}

func TestParseLimit(t *testing.T) {
	limit, err := ParseLimit("unlimited")
	if err != nil {
		t.Fatalf("ParseLimit(unlimited) failed: %v", err)
	}
	if !limit.IsUnlimited() {
		t.Error("expected unlimited")
	}

	limit, err = ParseLimit("15")
	if err != nil {
		t.Fatalf("ParseLimit(15) failed: %v", err)
	}
	if limit.IsUnlimited() || limit.Value() != 15 {
		t.Errorf("expected Limited(15), got %s", limit)
	}

	if _, err := ParseLimit("-3"); err == nil {
		t.Error("expected error for negative limit")
	}
	if _, err := ParseLimit("lots"); err == nil {
		t.Error("expected error for non-numeric limit")
	}
}

func TestLimit_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(Unlimited())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"unlimited"` {
		t.Errorf(`expected "unlimited", got %s`, data)
	}

	var decoded Limit
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !decoded.IsUnlimited() {
		t.Error("expected unlimited after round trip")
	}

	if err := json.Unmarshal([]byte("7"), &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.IsUnlimited() || decoded.Value() != 7 {
		t.Errorf("expected Limited(7), got %s", decoded)
	}

	if err := json.Unmarshal([]byte("-7"), &decoded); err == nil {
		t.Error("expected error for negative limit")
	}
}

func TestLimit_YAMLTierMap(t *testing.T) {
	input := []byte("free: 15\npremium: unlimited\n")

	var tiers map[string]Limit
	if err := yaml.Unmarshal(input, &tiers); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if tiers["free"].IsUnlimited() || tiers["free"].Value() != 15 {
		t.Errorf("expected free=15, got %s", tiers["free"])
	}
	if !tiers["premium"].IsUnlimited() {
		t.Errorf("expected premium=unlimited, got %s", tiers["premium"])
	}
}
