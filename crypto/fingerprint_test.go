package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestFingerprintIsStableAndKeySpecific(t *testing.T) {
	keyA := bytes.Repeat([]byte{0xAA}, 160)
	keyB := bytes.Repeat([]byte{0xBB}, 160)

	first := Fingerprint(keyA)
	if len(first) != 2*FingerprintSize {
		t.Fatalf("expected %d hex chars, got %d", 2*FingerprintSize, len(first))
	}
	if first != Fingerprint(keyA) {
		t.Fatalf("expected stable fingerprint")
	}
	if first == Fingerprint(keyB) {
		t.Fatalf("expected different keys to have different fingerprints")
	}
}

func TestFormatFingerprint(t *testing.T) {
	if got := FormatFingerprint("abcdef0123456789"); got != "ABCD EF01 2345 6789" {
		t.Fatalf("unexpected formatted fingerprint %q", got)
	}
	if got := FormatFingerprint("abc de"); got != "ABCD E" {
		t.Fatalf("unexpected formatting of short input %q", got)
	}
	if got := FormatFingerprint(""); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}

	formatted := FormatFingerprint(Fingerprint([]byte("key")))
	if strings.Count(formatted, " ") != 7 {
		t.Fatalf("expected 8 groups, got %q", formatted)
	}
}
