package pagination

import (
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 8, 30, 12, 4, 5, 123456789, time.UTC)
	token := Cursor{Timestamp: ts, ID: 42}.Encode()

	got, err := Decode(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, ts)
	}
	if got.ID != 42 {
		t.Errorf("id = %d, want 42", got.ID)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, token := range []string{
		"not base64!",
		"bm8tc2VwYXJhdG9y", // "no-separator"
		"MjAyNi0wOC0zMFQwMDowMDowMFosbm90LWEtbnVtYmVy", // bad id
		"bm90LWEtdGltZSw0Mg==",                         // bad timestamp
	} {
		if _, err := Decode(token); err == nil {
			t.Errorf("Decode(%q) succeeded, want error", token)
		}
	}
}
