package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// Version is the relay wire protocol version stamped on every response.
	Version = 2

	// ClientIDSize is the size of a relay-assigned client identifier.
	ClientIDSize = 16
	// NameSize is the fixed, null-padded size of a display name on the wire.
	NameSize = 255
	// PublicKeySize is the size of a client public key.
	PublicKeySize = 160
	// RequestHeaderSize is identifier(16) + version(1) + opcode(2) + payload size(4).
	RequestHeaderSize = ClientIDSize + 1 + 2 + 4
	// ResponseHeaderSize is version(1) + code(2) + payload size(4).
	ResponseHeaderSize = 1 + 2 + 4

	MessageTypeSize = 1
	ContentSizeSize = 4
	MessageIDSize   = 4

	// ClientRecordSize is one ClientList entry: identifier + padded name.
	ClientRecordSize = ClientIDSize + NameSize
	// SendMessageHeaderSize is destination(16) + type(1) + content size(4).
	SendMessageHeaderSize = ClientIDSize + MessageTypeSize + ContentSizeSize
	// PulledMessageHeaderSize precedes the content of each pulled record.
	PulledMessageHeaderSize = ClientIDSize + MessageIDSize + MessageTypeSize + ContentSizeSize
)

var (
	// ErrProtocolViolation is the parent of every malformed-request error.
	ErrProtocolViolation = errors.New("protocol: violation")
	// ErrShortHeader indicates the peer sent fewer bytes than a full header.
	ErrShortHeader = fmt.Errorf("%w: short request header", ErrProtocolViolation)
	// ErrUnknownOpcode indicates the header carries an opcode the relay does not serve.
	ErrUnknownOpcode = fmt.Errorf("%w: unknown opcode", ErrProtocolViolation)
	// ErrUnknownMessageType indicates a SendMessage body with an undefined type.
	ErrUnknownMessageType = fmt.Errorf("%w: unknown message type", ErrProtocolViolation)
	// ErrLengthMismatch indicates declared and delivered payload sizes disagree.
	ErrLengthMismatch = fmt.Errorf("%w: length mismatch", ErrProtocolViolation)
)

// Opcode identifies the purpose of a request.
type Opcode uint16

const (
	OpRegister            Opcode = 1000
	OpClientList          Opcode = 1001
	OpPublicKey           Opcode = 1002
	OpSendMessage         Opcode = 1003
	OpPullWaitingMessages Opcode = 1004
)

// Valid reports whether the opcode is served by the relay.
func (o Opcode) Valid() bool {
	switch o {
	case OpRegister, OpClientList, OpPublicKey, OpSendMessage, OpPullWaitingMessages:
		return true
	default:
		return false
	}
}

func (o Opcode) String() string {
	switch o {
	case OpRegister:
		return "register"
	case OpClientList:
		return "client_list"
	case OpPublicKey:
		return "public_key"
	case OpSendMessage:
		return "send_message"
	case OpPullWaitingMessages:
		return "pull_waiting_messages"
	default:
		return fmt.Sprintf("opcode(%d)", uint16(o))
	}
}

// Code is a response status code.
type Code uint16

const (
	CodeRegisterOK    Code = 2000
	CodeClientListOK  Code = 2001
	CodePublicKeyOK   Code = 2002
	CodeSendMessageOK Code = 2003
	CodePullOK        Code = 2004
	CodeError         Code = 9000
)

// MessageType is the kind of payload carried by SendMessage.
type MessageType uint8

const (
	RequestSymmetricKey MessageType = 1
	SendSymmetricKey    MessageType = 2
	SendText            MessageType = 3
	SendFile            MessageType = 4
)

// ParseMessageType converts a raw value into a defined MessageType.
func ParseMessageType(raw int) (MessageType, error) {
	t := MessageType(raw)
	if raw < 0 || raw > 0xff || !t.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownMessageType, raw)
	}
	return t, nil
}

// Valid reports whether t is one of the defined message types.
func (t MessageType) Valid() bool {
	switch t {
	case RequestSymmetricKey, SendSymmetricKey, SendText, SendFile:
		return true
	default:
		return false
	}
}

func (t MessageType) String() string {
	switch t {
	case RequestSymmetricKey:
		return "request_symmetric_key"
	case SendSymmetricKey:
		return "send_symmetric_key"
	case SendText:
		return "send_text"
	case SendFile:
		return "send_file"
	default:
		return fmt.Sprintf("message_type(%d)", uint8(t))
	}
}

// ClientID is the relay-assigned 16-byte identifier of a registered user.
type ClientID [ClientIDSize]byte

// ParseClientID decodes the hex form stored by the relay.
func ParseClientID(s string) (ClientID, error) {
	var id ClientID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decode client id: %w", err)
	}
	if len(raw) != ClientIDSize {
		return id, fmt.Errorf("decode client id: got %d bytes want %d", len(raw), ClientIDSize)
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the lower-case hex form.
func (id ClientID) String() string {
	return hex.EncodeToString(id[:])
}

// RequestHeader is the fixed 23-byte prefix of every request.
type RequestHeader struct {
	ClientID    ClientID
	Version     uint8
	Opcode      Opcode
	PayloadSize uint32
}

// ReadRequestHeader reads exactly one request header.
//
// io.EOF is returned untouched when the peer closed before sending anything;
// a partial header yields ErrShortHeader.
func ReadRequestHeader(r io.Reader) (RequestHeader, error) {
	var buf [RequestHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return RequestHeader{}, ErrShortHeader
		}
		return RequestHeader{}, err
	}
	return DecodeRequestHeader(buf[:])
}

// DecodeRequestHeader parses a request header from b.
func DecodeRequestHeader(b []byte) (RequestHeader, error) {
	if len(b) != RequestHeaderSize {
		return RequestHeader{}, ErrShortHeader
	}

	var h RequestHeader
	copy(h.ClientID[:], b[:ClientIDSize])
	h.Version = b[16]
	h.Opcode = Opcode(binary.LittleEndian.Uint16(b[17:19]))
	h.PayloadSize = binary.LittleEndian.Uint32(b[19:23])

	if !h.Opcode.Valid() {
		return RequestHeader{}, fmt.Errorf("%w: %d", ErrUnknownOpcode, uint16(h.Opcode))
	}
	return h, nil
}

// Encode serializes the header. Clients use it; the relay only decodes.
func (h RequestHeader) Encode() []byte {
	buf := make([]byte, RequestHeaderSize)
	copy(buf[:ClientIDSize], h.ClientID[:])
	buf[16] = h.Version
	binary.LittleEndian.PutUint16(buf[17:19], uint16(h.Opcode))
	binary.LittleEndian.PutUint32(buf[19:23], h.PayloadSize)
	return buf
}

// ResponseHeader is the fixed 7-byte prefix of every response.
type ResponseHeader struct {
	Version     uint8
	Code        Code
	PayloadSize uint32
}

// EncodeResponseHeader serializes a response header.
func EncodeResponseHeader(h ResponseHeader) []byte {
	buf := make([]byte, ResponseHeaderSize)
	buf[0] = h.Version
	binary.LittleEndian.PutUint16(buf[1:3], uint16(h.Code))
	binary.LittleEndian.PutUint32(buf[3:7], h.PayloadSize)
	return buf
}

// DecodeResponseHeader parses a response header from b.
func DecodeResponseHeader(b []byte) (ResponseHeader, error) {
	if len(b) != ResponseHeaderSize {
		return ResponseHeader{}, fmt.Errorf("%w: response header is %d bytes", ErrProtocolViolation, len(b))
	}
	return ResponseHeader{
		Version:     b[0],
		Code:        Code(binary.LittleEndian.Uint16(b[1:3])),
		PayloadSize: binary.LittleEndian.Uint32(b[3:7]),
	}, nil
}

// WriteResponse writes one response. The payload segment is omitted when empty.
func WriteResponse(w io.Writer, code Code, payload []byte) error {
	header := EncodeResponseHeader(ResponseHeader{
		Version:     Version,
		Code:        code,
		PayloadSize: uint32(len(payload)),
	})
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write response header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write response payload: %w", err)
	}
	return nil
}

// ReadResponse reads one full response.
func ReadResponse(r io.Reader) (ResponseHeader, []byte, error) {
	var buf [ResponseHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ResponseHeader{}, nil, fmt.Errorf("read response header: %w", err)
	}
	h, err := DecodeResponseHeader(buf[:])
	if err != nil {
		return ResponseHeader{}, nil, err
	}
	if h.PayloadSize == 0 {
		return h, nil, nil
	}

	payload := make([]byte, int(h.PayloadSize))
	if _, err := io.ReadFull(r, payload); err != nil {
		return ResponseHeader{}, nil, fmt.Errorf("read response payload: %w", err)
	}
	return h, payload, nil
}

// EncodeName null-pads name into the fixed wire field. Longer names are truncated.
func EncodeName(name string) []byte {
	buf := make([]byte, NameSize)
	copy(buf, name)
	return buf
}

// DecodeName strips the trailing null padding of a wire name field.
func DecodeName(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}
