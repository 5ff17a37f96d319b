package storage

import (
	"bytes"
	"testing"

	"msgrelay/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func testPublicKey(seed byte) []byte {
	return bytes.Repeat([]byte{seed}, protocol.PublicKeySize)
}

func mustRegister(t *testing.T, store *Store, name string) protocol.ClientID {
	t.Helper()

	id, err := store.RegisterUser(name, testPublicKey(name[0]))
	if err != nil {
		t.Fatalf("register user %q: %v", name, err)
	}
	return id
}
