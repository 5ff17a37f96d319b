package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// ReadBufferSize is the nominal number of bytes read from a socket at once.
	ReadBufferSize = 1024
	// CipherBlockSize is the block size of the client-side block cipher.
	CipherBlockSize = 16
)

// ChunkCap returns the smallest multiple of CipherBlockSize that is >= readBufferSize.
func ChunkCap(readBufferSize int) int {
	if readBufferSize <= 0 {
		readBufferSize = ReadBufferSize
	}
	return (readBufferSize + CipherBlockSize - 1) / CipherBlockSize * CipherBlockSize
}

// ReadChunked reads exactly size bytes in reads of at most chunkCap bytes,
// concatenating chunks in arrival order.
func ReadChunked(r io.Reader, size uint32, chunkCap int) ([]byte, error) {
	if chunkCap <= 0 {
		chunkCap = ChunkCap(ReadBufferSize)
	}

	content := make([]byte, 0, min(int64(size), int64(chunkCap)*64))
	chunk := make([]byte, chunkCap)
	remaining := int64(size)
	for remaining > 0 {
		n := min(remaining, int64(chunkCap))
		read, err := io.ReadFull(r, chunk[:n])
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: declared %d bytes, received %d", ErrLengthMismatch, size, int64(len(content))+int64(read))
			}
			return nil, err
		}
		content = append(content, chunk[:n]...)
		remaining -= n
	}
	return content, nil
}

// ReadExact reads exactly size bytes in a single pass.
func ReadExact(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	read, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: expected %d bytes, received %d", ErrLengthMismatch, size, read)
		}
		return nil, err
	}
	return buf, nil
}

// SendMessageHeader is the fixed part of a SendMessage request body.
type SendMessageHeader struct {
	To          ClientID
	Type        MessageType
	ContentSize uint32
}

// DecodeSendMessageHeader parses the body prefix; unknown types are rejected.
func DecodeSendMessageHeader(b []byte) (SendMessageHeader, error) {
	if len(b) != SendMessageHeaderSize {
		return SendMessageHeader{}, fmt.Errorf("%w: send message header is %d bytes", ErrLengthMismatch, len(b))
	}

	var h SendMessageHeader
	copy(h.To[:], b[:ClientIDSize])
	t, err := ParseMessageType(int(b[ClientIDSize]))
	if err != nil {
		return SendMessageHeader{}, err
	}
	h.Type = t
	h.ContentSize = binary.LittleEndian.Uint32(b[ClientIDSize+1:])
	return h, nil
}

// Encode serializes the SendMessage body prefix.
func (h SendMessageHeader) Encode() []byte {
	buf := make([]byte, SendMessageHeaderSize)
	copy(buf[:ClientIDSize], h.To[:])
	buf[ClientIDSize] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[ClientIDSize+1:], h.ContentSize)
	return buf
}

// ClientRecord is one entry of a ClientList response.
type ClientRecord struct {
	ClientID ClientID
	Name     string
}

// AppendClientRecord appends identifier and null-padded name to dst.
func AppendClientRecord(dst []byte, rec ClientRecord) []byte {
	dst = append(dst, rec.ClientID[:]...)
	return append(dst, EncodeName(rec.Name)...)
}

// DecodeClientRecords splits a ClientList payload into records.
func DecodeClientRecords(payload []byte) ([]ClientRecord, error) {
	if len(payload)%ClientRecordSize != 0 {
		return nil, fmt.Errorf("%w: client list payload of %d bytes", ErrLengthMismatch, len(payload))
	}

	records := make([]ClientRecord, 0, len(payload)/ClientRecordSize)
	for off := 0; off < len(payload); off += ClientRecordSize {
		var rec ClientRecord
		copy(rec.ClientID[:], payload[off:off+ClientIDSize])
		rec.Name = DecodeName(payload[off+ClientIDSize : off+ClientRecordSize])
		records = append(records, rec)
	}
	return records, nil
}

// PulledMessage is one record of a PullWaitingMessages response.
type PulledMessage struct {
	From    ClientID
	ID      uint32
	Type    MessageType
	Content []byte
}

// AppendPulledMessage encodes source‖id‖type‖size‖content onto dst.
// The content segment is omitted when empty.
func AppendPulledMessage(dst []byte, msg PulledMessage) []byte {
	var fixed [PulledMessageHeaderSize]byte
	copy(fixed[:ClientIDSize], msg.From[:])
	binary.LittleEndian.PutUint32(fixed[ClientIDSize:ClientIDSize+4], msg.ID)
	fixed[ClientIDSize+4] = byte(msg.Type)
	binary.LittleEndian.PutUint32(fixed[ClientIDSize+5:], uint32(len(msg.Content)))

	dst = append(dst, fixed[:]...)
	if len(msg.Content) > 0 {
		dst = append(dst, msg.Content...)
	}
	return dst
}

// DecodePulledMessages splits a PullWaitingMessages payload into records.
func DecodePulledMessages(payload []byte) ([]PulledMessage, error) {
	messages := make([]PulledMessage, 0)
	for off := 0; off < len(payload); {
		if len(payload)-off < PulledMessageHeaderSize {
			return nil, fmt.Errorf("%w: truncated pulled message header", ErrLengthMismatch)
		}

		var msg PulledMessage
		copy(msg.From[:], payload[off:off+ClientIDSize])
		msg.ID = binary.LittleEndian.Uint32(payload[off+ClientIDSize:])
		msg.Type = MessageType(payload[off+ClientIDSize+4])
		size := int(binary.LittleEndian.Uint32(payload[off+ClientIDSize+5:]))
		off += PulledMessageHeaderSize

		if len(payload)-off < size {
			return nil, fmt.Errorf("%w: pulled message %d declares %d bytes", ErrLengthMismatch, msg.ID, size)
		}
		if size > 0 {
			msg.Content = append([]byte(nil), payload[off:off+size]...)
		}
		off += size
		messages = append(messages, msg)
	}
	return messages, nil
}
