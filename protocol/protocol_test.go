package protocol

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestHeaderLayout(t *testing.T) {
	var id ClientID
	for i := range id {
		id[i] = byte(i + 1)
	}
	h := RequestHeader{ClientID: id, Version: 2, Opcode: OpSendMessage, PayloadSize: 0x01020304}

	raw := h.Encode()
	require.Len(t, raw, RequestHeaderSize)
	require.Equal(t, id[:], raw[:16])
	require.Equal(t, byte(2), raw[16])
	// 1003 = 0x03EB, little-endian
	require.Equal(t, []byte{0xEB, 0x03}, raw[17:19])
	require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, raw[19:23])

	got, err := ReadRequestHeader(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestReadRequestHeaderZeroBytesIsEOF(t *testing.T) {
	_, err := ReadRequestHeader(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestReadRequestHeaderPartial(t *testing.T) {
	_, err := ReadRequestHeader(bytes.NewReader(make([]byte, 10)))
	require.ErrorIs(t, err, ErrShortHeader)
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestDecodeRequestHeaderRejectsUnknownOpcode(t *testing.T) {
	raw := RequestHeader{Version: 2, Opcode: 1005}.Encode()
	_, err := DecodeRequestHeader(raw)
	require.ErrorIs(t, err, ErrUnknownOpcode)
}

func TestWriteResponseOmitsEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, CodeError, nil))
	require.Equal(t, []byte{Version, 0x28, 0x23, 0, 0, 0, 0}, buf.Bytes())
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("sixteen byte id!")
	require.NoError(t, WriteResponse(&buf, CodeRegisterOK, payload))
	require.Equal(t, ResponseHeaderSize+len(payload), buf.Len())

	h, got, err := ReadResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, CodeRegisterOK, h.Code)
	require.Equal(t, uint8(Version), h.Version)
	require.Equal(t, uint32(len(payload)), h.PayloadSize)
	require.Equal(t, payload, got)
}

func TestNamePadding(t *testing.T) {
	field := EncodeName("alice")
	require.Len(t, field, NameSize)
	require.Equal(t, "alice", DecodeName(field))
	require.Equal(t, "", DecodeName(make([]byte, NameSize)))
}

func TestParseMessageType(t *testing.T) {
	tests := []struct {
		raw     int
		want    MessageType
		wantErr bool
	}{
		{raw: 1, want: RequestSymmetricKey},
		{raw: 2, want: SendSymmetricKey},
		{raw: 3, want: SendText},
		{raw: 4, want: SendFile},
		{raw: 0, wantErr: true},
		{raw: 5, wantErr: true},
		{raw: 259, wantErr: true},
		{raw: -1, wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseMessageType(tc.raw)
		if tc.wantErr {
			require.ErrorIs(t, err, ErrUnknownMessageType, "raw=%d", tc.raw)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

func TestClientIDHexRoundTrip(t *testing.T) {
	var id ClientID
	_, err := rand.Read(id[:])
	require.NoError(t, err)

	parsed, err := ParseClientID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = ParseClientID("abcd")
	require.Error(t, err)
}

func TestChunkCap(t *testing.T) {
	require.Equal(t, 1024, ChunkCap(1024))
	require.Equal(t, 1040, ChunkCap(1025))
	require.Equal(t, 16, ChunkCap(1))
	require.Equal(t, 1024, ChunkCap(0))
}

// countingReader records the size of every Read call.
type countingReader struct {
	r     io.Reader
	reads []int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads = append(c.reads, len(p))
	return c.r.Read(p)
}

func TestReadChunkedFidelity(t *testing.T) {
	for _, size := range []int{0, 1, 15, 16, 1023, 1024, 1025, 4096, 10_000} {
		original := make([]byte, size)
		_, err := rand.Read(original)
		require.NoError(t, err)

		src := &countingReader{r: bytes.NewReader(original)}
		got, err := ReadChunked(src, uint32(size), 1024)
		require.NoError(t, err, "size=%d", size)
		require.Len(t, got, size)
		require.True(t, bytes.Equal(original, got), "size=%d content differs", size)
		for _, n := range src.reads {
			require.LessOrEqual(t, n, 1024)
		}
	}
}

func TestReadChunkedShortInput(t *testing.T) {
	_, err := ReadChunked(bytes.NewReader(make([]byte, 100)), 200, 64)
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestReadChunkedPropagatesTransportErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := ReadChunked(io.MultiReader(bytes.NewReader([]byte{1, 2}), errReader{boom}), 10, 4)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrLengthMismatch)
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func TestSendMessageHeaderRoundTrip(t *testing.T) {
	h := SendMessageHeader{To: ClientID{9}, Type: SendFile, ContentSize: 70000}
	got, err := DecodeSendMessageHeader(h.Encode())
	require.NoError(t, err)
	require.Equal(t, h, got)

	raw := h.Encode()
	raw[ClientIDSize] = 9
	_, err = DecodeSendMessageHeader(raw)
	require.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestClientRecords(t *testing.T) {
	payload := AppendClientRecord(nil, ClientRecord{ClientID: ClientID{1}, Name: "bob"})
	payload = AppendClientRecord(payload, ClientRecord{ClientID: ClientID{2}, Name: "carol"})
	require.Len(t, payload, 2*ClientRecordSize)

	records, err := DecodeClientRecords(payload)
	require.NoError(t, err)
	require.Equal(t, []ClientRecord{
		{ClientID: ClientID{1}, Name: "bob"},
		{ClientID: ClientID{2}, Name: "carol"},
	}, records)

	_, err = DecodeClientRecords(payload[:ClientRecordSize+3])
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestPulledMessages(t *testing.T) {
	payload := AppendPulledMessage(nil, PulledMessage{From: ClientID{7}, ID: 1, Type: RequestSymmetricKey})
	require.Len(t, payload, PulledMessageHeaderSize)
	payload = AppendPulledMessage(payload, PulledMessage{From: ClientID{7}, ID: 2, Type: SendText, Content: []byte("hi")})

	got, err := DecodePulledMessages(payload)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Nil(t, got[0].Content)
	require.Equal(t, uint32(2), got[1].ID)
	require.Equal(t, SendText, got[1].Type)
	require.Equal(t, []byte("hi"), got[1].Content)

	_, err = DecodePulledMessages(payload[:len(payload)-1])
	require.ErrorIs(t, err, ErrLengthMismatch)
}
