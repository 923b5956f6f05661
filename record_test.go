package citadel

import (
	"strings"
	"testing"
)

func TestDeriveRecordID(t *testing.T) {
	a := DeriveRecordID([]byte("app/db/password"))
	b := DeriveRecordID([]byte("app/db/password"))
	c := DeriveRecordID([]byte("app/db/username"))

	if a != b {
		t.Fatal("same path produced different ids")
	}
	if a == c {
		t.Fatal("different paths produced the same id")
	}
}

func TestRecordIDParseRoundtrip(t *testing.T) {
	id, err := RandomRecordID()
	if err != nil {
		t.Fatalf("RandomRecordID failed: %v", err)
	}

	parsed, err := ParseRecordID(id.String())
	if err != nil {
		t.Fatalf("ParseRecordID failed: %v", err)
	}
	if parsed != id {
		t.Fatal("parse roundtrip mismatch")
	}
}

func TestParseRecordIDErrors(t *testing.T) {
	cases := []string{
		"",
		"zz",
		"abcd",
		strings.Repeat("ab", RecordIDSize+1),
		strings.Repeat("ab", RecordIDSize-1),
	}
	for _, s := range cases {
		if _, err := ParseRecordID(s); err == nil {
			t.Errorf("ParseRecordID(%q) should fail", s)
		}
	}
}

func TestRecordStateString(t *testing.T) {
	if StateActive.String() != "active" {
		t.Errorf("StateActive.String() = %q", StateActive.String())
	}
	if StateRevoked.String() != "revoked" {
		t.Errorf("StateRevoked.String() = %q", StateRevoked.String())
	}
}

func TestValidateStoreKey(t *testing.T) {
	valid := []string{"api-key", "app/db/password", "a.b.c", "under_score", "0"}
	for _, key := range valid {
		if err := validateStoreKey(key); err != nil {
			t.Errorf("validateStoreKey(%q) failed: %v", key, err)
		}
	}

	invalid := []string{"", "has space", "tab\tkey", "nul\x00", strings.Repeat("x", 257)}
	for _, key := range invalid {
		if err := validateStoreKey(key); err == nil {
			t.Errorf("validateStoreKey(%q) should fail", key)
		}
	}
}
