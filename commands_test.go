package main

import (
	"bytes"
	"strings"
	"testing"

	"msgrelay/crypto"
	"msgrelay/discovery"
	"msgrelay/storage"
)

func TestPrintUsersShowsFingerprints(t *testing.T) {
	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	key := bytes.Repeat([]byte{0x42}, 160)
	id, err := store.RegisterUser("alice", key)
	if err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}

	var out bytes.Buffer
	if err := printUsers(&out, store); err != nil {
		t.Fatalf("printUsers failed: %v", err)
	}

	text := out.String()
	for _, want := range []string{id.String(), "alice", crypto.FormatFingerprint(crypto.Fingerprint(key))} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestPrintRelays(t *testing.T) {
	var empty bytes.Buffer
	if err := printRelays(&empty, nil); err != nil {
		t.Fatalf("printRelays failed: %v", err)
	}
	if strings.TrimSpace(empty.String()) != "no relays found" {
		t.Fatalf("unexpected empty output %q", empty.String())
	}

	var out bytes.Buffer
	err := printRelays(&out, []discovery.Relay{{
		RelayID:      "relay-1",
		InstanceName: "lab",
		Version:      2,
		Port:         1234,
		Addresses:    []string{"192.168.1.10", "fe80::1"},
	}})
	if err != nil {
		t.Fatalf("printRelays failed: %v", err)
	}
	if !strings.Contains(out.String(), "relay-1") || !strings.Contains(out.String(), "192.168.1.10,fe80::1") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}
