package store

import (
	"encoding/hex"
	"testing"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"x"}`)
	got := computeDedupKey(body)
	if got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	body := []byte(`{"notId":"x"}`)
	got := computeDedupKey(body)
	// hex-encoded first 8 bytes -> 16 hex chars
	b, err := hex.DecodeString(got)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\nCREATE INDEX b ON a (x);\n")
	if len(got) != 2 || got[1] != "CREATE INDEX b ON a (x)" {
		t.Fatalf("got %q", got)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	b, err := migrations.ReadFile("migrations/0001_init.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(splitStatements(string(b))) < 4 {
		t.Fatalf("schema looks truncated")
	}
}

func TestJSONOrNil(t *testing.T) {
	var routes [][]int
	if v := jsonOrNil(routes); v != nil {
		t.Fatalf("nil slice -> nil expected")
	}
	if v := jsonOrNil([][]int{{1, 1}}); v == nil {
		t.Fatalf("non-empty -> non-nil expected")
	}
}
