package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"msgrelay/crypto"
	"msgrelay/metrics"
	"msgrelay/protocol"
	"msgrelay/storage"
)

// Store is the persistence surface the request handler depends on.
type Store interface {
	RegisterUser(name string, publicKey []byte) (protocol.ClientID, error)
	GetUserByID(id protocol.ClientID) (*storage.User, error)
	ListUsers() ([]storage.UserSummary, error)
	TouchLastSeen(id protocol.ClientID) error
	InsertMessage(to, from protocol.ClientID, msgType protocol.MessageType, declaredSize uint32, content []byte) (int64, error)
	SetMessageContent(id int64, content []byte) error
	ListMessagesFor(id protocol.ClientID) ([]storage.Message, error)
	DeleteMessage(id int64) error
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Logger zerolog.Logger
	// ReadBufferSize is rounded up to the cipher block size to bound each
	// content read. Zero selects protocol.ReadBufferSize.
	ReadBufferSize int
}

// Handler serves one request/response exchange at a time against a Store.
type Handler struct {
	store    Store
	logger   zerolog.Logger
	chunkCap int
}

// NewHandler returns a request handler backed by store.
func NewHandler(store Store, options HandlerOptions) *Handler {
	return &Handler{
		store:    store,
		logger:   options.Logger,
		chunkCap: protocol.ChunkCap(options.ReadBufferSize),
	}
}

// HandleRequest reads one request from rw and writes exactly one response.
//
// It returns nil when the exchange completed, ErrPeerClosed when the peer
// closed before sending a header, an error wrapping ErrDisconnected when the
// transport broke, or an error wrapping ErrRequestFailed after an error
// response was written. Only a nil return allows another request on rw.
func (h *Handler) HandleRequest(rw io.ReadWriter) error {
	start := time.Now()

	header, err := protocol.ReadRequestHeader(rw)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ErrPeerClosed
		}
		if isDisconnect(err) {
			return fmt.Errorf("%w: read request header: %v", ErrDisconnected, err)
		}
		return h.fail(rw, "header", protocol.ClientID{}, start, fmt.Errorf("read request header: %w", err))
	}

	op := header.Opcode.String()
	code, payload, err := h.dispatch(rw, header)
	if err != nil {
		if isDisconnect(err) {
			metrics.RecordRequest(op, metrics.ResultError, time.Since(start))
			return fmt.Errorf("%w: %s: %v", ErrDisconnected, op, err)
		}
		return h.fail(rw, op, header.ClientID, start, fmt.Errorf("%s: %w", op, err))
	}

	if err := protocol.WriteResponse(rw, code, payload); err != nil {
		metrics.RecordRequest(op, metrics.ResultError, time.Since(start))
		if isDisconnect(err) {
			return fmt.Errorf("%w: %s: %v", ErrDisconnected, op, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrRequestFailed, op, err)
	}

	metrics.RecordRequest(op, metrics.ResultOK, time.Since(start))
	h.logger.Debug().
		Str("opcode", op).
		Str("client_id", header.ClientID.String()).
		Uint16("code", uint16(code)).
		Int("payload_size", len(payload)).
		Msg("request handled")
	return nil
}

func (h *Handler) fail(w io.Writer, op string, clientID protocol.ClientID, start time.Time, cause error) error {
	metrics.RecordRequest(op, metrics.ResultError, time.Since(start))
	h.logger.Warn().
		Err(cause).
		Str("opcode", op).
		Str("client_id", clientID.String()).
		Msg("request failed")

	if err := protocol.WriteResponse(w, protocol.CodeError, nil); err != nil {
		if isDisconnect(err) {
			return fmt.Errorf("%w: write error response: %v", ErrDisconnected, err)
		}
		return fmt.Errorf("%w: %w (error response not sent: %v)", ErrRequestFailed, cause, err)
	}
	return fmt.Errorf("%w: %w", ErrRequestFailed, cause)
}

func (h *Handler) dispatch(r io.Reader, header protocol.RequestHeader) (protocol.Code, []byte, error) {
	if header.Opcode == protocol.OpRegister {
		return h.handleRegister(r)
	}

	if err := h.store.TouchLastSeen(header.ClientID); err != nil {
		return 0, nil, fmt.Errorf("refresh requester %s: %w", header.ClientID, err)
	}

	switch header.Opcode {
	case protocol.OpClientList:
		return h.handleClientList(header.ClientID)
	case protocol.OpPublicKey:
		return h.handlePublicKey(r)
	case protocol.OpSendMessage:
		return h.handleSendMessage(r, header.ClientID)
	case protocol.OpPullWaitingMessages:
		return h.handlePullWaitingMessages(header.ClientID)
	default:
		return 0, nil, fmt.Errorf("%w: %d", protocol.ErrUnknownOpcode, uint16(header.Opcode))
	}
}

func (h *Handler) handleRegister(r io.Reader) (protocol.Code, []byte, error) {
	nameField, err := protocol.ReadExact(r, protocol.NameSize)
	if err != nil {
		return 0, nil, fmt.Errorf("read name: %w", err)
	}
	publicKey, err := protocol.ReadExact(r, protocol.PublicKeySize)
	if err != nil {
		return 0, nil, fmt.Errorf("read public key: %w", err)
	}

	name := protocol.DecodeName(nameField)
	id, err := h.store.RegisterUser(name, publicKey)
	if err != nil {
		return 0, nil, fmt.Errorf("register %q: %w", name, err)
	}

	h.logger.Info().
		Str("client_id", id.String()).
		Str("name", name).
		Str("fingerprint", crypto.Fingerprint(publicKey)).
		Msg("user registered")
	return protocol.CodeRegisterOK, id[:], nil
}

func (h *Handler) handleClientList(requester protocol.ClientID) (protocol.Code, []byte, error) {
	users, err := h.store.ListUsers()
	if err != nil {
		return 0, nil, err
	}

	seen := 0
	for _, user := range users {
		if user.ClientID == requester {
			seen++
		}
	}
	if seen != 1 {
		return 0, nil, fmt.Errorf("%w: %s listed %d times", errRequesterNotListed, requester, seen)
	}

	payload := make([]byte, 0, protocol.ClientRecordSize*(len(users)-1))
	for _, user := range users {
		if user.ClientID == requester {
			continue
		}
		payload = protocol.AppendClientRecord(payload, protocol.ClientRecord{ClientID: user.ClientID, Name: user.Name})
	}
	return protocol.CodeClientListOK, payload, nil
}

func (h *Handler) handlePublicKey(r io.Reader) (protocol.Code, []byte, error) {
	raw, err := protocol.ReadExact(r, protocol.ClientIDSize)
	if err != nil {
		return 0, nil, fmt.Errorf("read target id: %w", err)
	}
	var target protocol.ClientID
	copy(target[:], raw)

	user, err := h.store.GetUserByID(target)
	if err != nil {
		return 0, nil, fmt.Errorf("lookup %s: %w", target, err)
	}
	if len(user.PublicKey) != protocol.PublicKeySize {
		return 0, nil, fmt.Errorf("stored key for %s is %d bytes", target, len(user.PublicKey))
	}

	payload := make([]byte, 0, protocol.ClientIDSize+protocol.PublicKeySize)
	payload = append(payload, user.ClientID[:]...)
	payload = append(payload, user.PublicKey...)
	return protocol.CodePublicKeyOK, payload, nil
}

func (h *Handler) handleSendMessage(r io.Reader, from protocol.ClientID) (protocol.Code, []byte, error) {
	raw, err := protocol.ReadExact(r, protocol.SendMessageHeaderSize)
	if err != nil {
		return 0, nil, fmt.Errorf("read message header: %w", err)
	}
	msg, err := protocol.DecodeSendMessageHeader(raw)
	if err != nil {
		return 0, nil, err
	}

	var id int64
	switch msg.Type {
	case protocol.RequestSymmetricKey:
		if msg.ContentSize != 0 {
			return 0, nil, fmt.Errorf("%w: %s declares %d content bytes", protocol.ErrLengthMismatch, msg.Type, msg.ContentSize)
		}
		id, err = h.store.InsertMessage(msg.To, from, msg.Type, 0, nil)
	case protocol.SendSymmetricKey:
		if msg.ContentSize == 0 {
			return 0, nil, fmt.Errorf("%w: %s without content", protocol.ErrLengthMismatch, msg.Type)
		}
		id, err = h.storeChunkedContent(r, from, msg)
	case protocol.SendText, protocol.SendFile:
		if msg.ContentSize == 0 {
			id, err = h.store.InsertMessage(msg.To, from, msg.Type, 0, nil)
			break
		}
		id, err = h.storeChunkedContent(r, from, msg)
	default:
		return 0, nil, fmt.Errorf("%w: %d", protocol.ErrUnknownMessageType, uint8(msg.Type))
	}
	if err != nil {
		return 0, nil, err
	}
	if id < 0 || id > int64(^uint32(0)) {
		return 0, nil, fmt.Errorf("message id %d does not fit the wire field", id)
	}

	metrics.RecordMessageStored(msg.Type.String(), int(msg.ContentSize))
	h.logger.Debug().
		Str("from", from.String()).
		Str("to", msg.To.String()).
		Str("type", msg.Type.String()).
		Int64("message_id", id).
		Uint32("content_size", msg.ContentSize).
		Msg("message stored")

	payload := make([]byte, protocol.ClientIDSize+protocol.MessageIDSize)
	copy(payload, msg.To[:])
	binary.LittleEndian.PutUint32(payload[protocol.ClientIDSize:], uint32(id))
	return protocol.CodeSendMessageOK, payload, nil
}

// storeChunkedContent inserts a placeholder, reassembles the content and
// fills it in. The destination is checked before any content is read. The placeholder is removed when reassembly or fill fails.
func (h *Handler) storeChunkedContent(r io.Reader, from protocol.ClientID, msg protocol.SendMessageHeader) (int64, error) {
	id, err := h.store.InsertMessage(msg.To, from, msg.Type, msg.ContentSize, nil)
	if err != nil {
		return 0, err
	}

	content, err := protocol.ReadChunked(r, msg.ContentSize, h.chunkCap)
	if err == nil {
		err = h.store.SetMessageContent(id, content)
	}
	if err != nil {
		if delErr := h.store.DeleteMessage(id); delErr != nil {
			h.logger.Error().Err(delErr).Int64("message_id", id).Msg("remove incomplete message")
		}
		return 0, fmt.Errorf("reassemble message %d: %w", id, err)
	}
	return id, nil
}

func (h *Handler) handlePullWaitingMessages(requester protocol.ClientID) (protocol.Code, []byte, error) {
	messages, err := h.store.ListMessagesFor(requester)
	if err != nil {
		return 0, nil, err
	}

	payload := make([]byte, 0)
	delivered := 0
	for _, msg := range messages {
		if msg.ID < 0 || msg.ID > int64(^uint32(0)) {
			return 0, nil, fmt.Errorf("message id %d does not fit the wire field", msg.ID)
		}
		payload = protocol.AppendPulledMessage(payload, protocol.PulledMessage{
			From:    msg.From,
			ID:      uint32(msg.ID),
			Type:    msg.Type,
			Content: msg.Content,
		})
		if err := h.store.DeleteMessage(msg.ID); err != nil {
			metrics.RecordMessagesDelivered(delivered)
			return 0, nil, fmt.Errorf("delete delivered message %d: %w", msg.ID, err)
		}
		delivered++
	}

	metrics.RecordMessagesDelivered(delivered)
	if delivered > 0 {
		h.logger.Debug().Str("client_id", requester.String()).Int("count", delivered).Msg("messages delivered")
	}
	return protocol.CodePullOK, payload, nil
}
