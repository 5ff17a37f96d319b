package network

import (
	"bytes"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"msgrelay/protocol"
	"msgrelay/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
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

func newTestHandler(store Store) *Handler {
	return NewHandler(store, HandlerOptions{Logger: zerolog.Nop()})
}

func testPublicKey(seed byte) []byte {
	return bytes.Repeat([]byte{seed}, protocol.PublicKeySize)
}

func encodeRequest(id protocol.ClientID, op protocol.Opcode, body []byte) []byte {
	header := protocol.RequestHeader{
		ClientID:    id,
		Version:     protocol.Version,
		Opcode:      op,
		PayloadSize: uint32(len(body)),
	}
	return append(header.Encode(), body...)
}

func registerBody(name string, key []byte) []byte {
	return append(protocol.EncodeName(name), key...)
}

// memConn feeds a fixed request stream and records everything written back.
type memConn struct {
	in  io.Reader
	out bytes.Buffer
}

func newMemConn(in []byte) *memConn {
	return &memConn{in: bytes.NewReader(in)}
}

func (c *memConn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *memConn) Write(p []byte) (int, error) { return c.out.Write(p) }

func (c *memConn) response(t *testing.T) (protocol.ResponseHeader, []byte) {
	t.Helper()

	header, payload, err := protocol.ReadResponse(&c.out)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return header, payload
}

// failingReader returns data then a fixed error.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func mustRegister(t *testing.T, h *Handler, name string) protocol.ClientID {
	t.Helper()

	conn := newMemConn(encodeRequest(protocol.ClientID{}, protocol.OpRegister, registerBody(name, testPublicKey(name[0]))))
	if err := h.HandleRequest(conn); err != nil {
		t.Fatalf("register %q: %v", name, err)
	}
	header, payload := conn.response(t)
	if header.Code != protocol.CodeRegisterOK || len(payload) != protocol.ClientIDSize {
		t.Fatalf("register %q: code %d payload %d bytes", name, header.Code, len(payload))
	}
	return protocol.ClientID(payload)
}
