package network

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"msgrelay/protocol"
)

// DefaultDialTimeout bounds the TCP connect of Dial.
const DefaultDialTimeout = 5 * time.Second

// Client speaks the relay protocol over one TCP connection.
type Client struct {
	conn net.Conn

	mu sync.Mutex
	id protocol.ClientID
}

// Dial connects to a relay. A non-positive timeout selects DefaultDialTimeout.
func Dial(address string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", address, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// ID returns the identifier stamped on requests.
func (c *Client) ID() protocol.ClientID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// SetID selects the identity for later requests, e.g. one saved from an earlier Register.
func (c *Client) SetID(id protocol.ClientID) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Register creates a user and adopts the returned identifier.
func (c *Client) Register(name string, publicKey []byte) (protocol.ClientID, error) {
	if len(name) > protocol.NameSize {
		return protocol.ClientID{}, fmt.Errorf("name is %d bytes, max %d", len(name), protocol.NameSize)
	}
	if len(publicKey) != protocol.PublicKeySize {
		return protocol.ClientID{}, fmt.Errorf("public key is %d bytes, want %d", len(publicKey), protocol.PublicKeySize)
	}

	body := make([]byte, 0, protocol.NameSize+protocol.PublicKeySize)
	body = append(body, protocol.EncodeName(name)...)
	body = append(body, publicKey...)

	payload, err := c.roundTrip(protocol.OpRegister, body, protocol.CodeRegisterOK)
	if err != nil {
		return protocol.ClientID{}, err
	}
	if len(payload) != protocol.ClientIDSize {
		return protocol.ClientID{}, fmt.Errorf("%w: register payload of %d bytes", ErrUnexpectedResponse, len(payload))
	}

	var id protocol.ClientID
	copy(id[:], payload)
	c.SetID(id)
	return id, nil
}

// ClientList returns every registered user except the caller.
func (c *Client) ClientList() ([]protocol.ClientRecord, error) {
	payload, err := c.roundTrip(protocol.OpClientList, nil, protocol.CodeClientListOK)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeClientRecords(payload)
}

// PublicKey fetches the public key registered for target.
func (c *Client) PublicKey(target protocol.ClientID) ([]byte, error) {
	payload, err := c.roundTrip(protocol.OpPublicKey, target[:], protocol.CodePublicKeyOK)
	if err != nil {
		return nil, err
	}
	if len(payload) != protocol.ClientIDSize+protocol.PublicKeySize {
		return nil, fmt.Errorf("%w: public key payload of %d bytes", ErrUnexpectedResponse, len(payload))
	}
	if protocol.ClientID(payload[:protocol.ClientIDSize]) != target {
		return nil, fmt.Errorf("%w: public key for a different client", ErrUnexpectedResponse)
	}
	return payload[protocol.ClientIDSize:], nil
}

// SendMessage deposits content for to and returns the relay-assigned message id.
func (c *Client) SendMessage(to protocol.ClientID, msgType protocol.MessageType, content []byte) (uint32, error) {
	header := protocol.SendMessageHeader{To: to, Type: msgType, ContentSize: uint32(len(content))}
	body := append(header.Encode(), content...)

	payload, err := c.roundTrip(protocol.OpSendMessage, body, protocol.CodeSendMessageOK)
	if err != nil {
		return 0, err
	}
	if len(payload) != protocol.ClientIDSize+protocol.MessageIDSize {
		return 0, fmt.Errorf("%w: send message payload of %d bytes", ErrUnexpectedResponse, len(payload))
	}
	return binary.LittleEndian.Uint32(payload[protocol.ClientIDSize:]), nil
}

// PullMessages retrieves and removes every message waiting for the caller.
func (c *Client) PullMessages() ([]protocol.PulledMessage, error) {
	payload, err := c.roundTrip(protocol.OpPullWaitingMessages, nil, protocol.CodePullOK)
	if err != nil {
		return nil, err
	}
	return protocol.DecodePulledMessages(payload)
}

func (c *Client) roundTrip(op protocol.Opcode, body []byte, want protocol.Code) ([]byte, error) {
	header := protocol.RequestHeader{
		ClientID:    c.ID(),
		Version:     protocol.Version,
		Opcode:      op,
		PayloadSize: uint32(len(body)),
	}

	request := append(header.Encode(), body...)
	if _, err := c.conn.Write(request); err != nil {
		return nil, fmt.Errorf("send %s request: %w", op, err)
	}

	response, payload, err := protocol.ReadResponse(c.conn)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	switch response.Code {
	case want:
		return payload, nil
	case protocol.CodeError:
		return nil, fmt.Errorf("%w: %s", ErrRelayError, op)
	default:
		return nil, fmt.Errorf("%w: %s answered with code %d", ErrUnexpectedResponse, op, response.Code)
	}
}
