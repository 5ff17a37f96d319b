// Package sanitize is the single enforcement point for the shape of values
// written to or looked up in the relay store. Validators never rewrite input;
// they accept it or reject it with an error wrapping ErrInvalid.
package sanitize

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"msgrelay/protocol"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("sanitize: invalid input")

const (
	nameASCIIFirst = 32
	nameASCIILast  = 126
)

var nameBlacklistSubstrings = []string{
	"DROP TABLE",
	"INSERT INTO",
	"DELETE FROM",
	"CREATE TABLE",
}

var nameBlacklistPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^SELECT (\w+|\*) FROM .*`),
}

// Name validates a display name.
func Name(name string) error {
	if len(name) < 1 || len(name) > protocol.NameSize {
		return fmt.Errorf("%w: name must be 1..%d bytes, got %d", ErrInvalid, protocol.NameSize, len(name))
	}

	upper := strings.ToUpper(name)
	for _, word := range nameBlacklistSubstrings {
		if strings.Contains(upper, word) {
			return fmt.Errorf("%w: name contains blacklisted word %q", ErrInvalid, word)
		}
	}
	for _, pattern := range nameBlacklistPatterns {
		if pattern.MatchString(name) {
			return fmt.Errorf("%w: name matches blacklisted pattern %q", ErrInvalid, pattern.String())
		}
	}

	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < nameASCIIFirst || c > nameASCIILast {
			return fmt.Errorf("%w: name contains disallowed byte 0x%02x at %d", ErrInvalid, c, i)
		}
	}
	return nil
}

// ClientID validates the hex form of a client identifier.
func ClientID(hexID string) error {
	return fixedHex("client id", hexID, protocol.ClientIDSize)
}

// PublicKey validates the hex form of a public key.
func PublicKey(hexKey string) error {
	return fixedHex("public key", hexKey, protocol.PublicKeySize)
}

func fixedHex(field, value string, size int) error {
	if len(value) != size*2 {
		return fmt.Errorf("%w: %s must be %d hex chars, got %d", ErrInvalid, field, size*2, len(value))
	}
	if _, err := hex.DecodeString(value); err != nil {
		return fmt.Errorf("%w: %s is not hex: %v", ErrInvalid, field, err)
	}
	return nil
}

// LastSeen validates a unix timestamp.
func LastSeen(unixSeconds int64) error {
	if unixSeconds < 0 {
		return fmt.Errorf("%w: last seen must be >= 0, got %d", ErrInvalid, unixSeconds)
	}
	return nil
}

// MessageType validates a raw message type value.
func MessageType(raw int) error {
	if _, err := protocol.ParseMessageType(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Content validates message content against its declared size.
func Content(declared uint32, content []byte) error {
	if declared == 0 {
		if len(content) != 0 {
			return fmt.Errorf("%w: content of %d bytes with declared size 0", ErrInvalid, len(content))
		}
		return nil
	}
	if content == nil {
		return fmt.Errorf("%w: content is required when declared size is %d", ErrInvalid, declared)
	}
	if uint64(len(content)) != uint64(declared) {
		return fmt.Errorf("%w: content is %d bytes, declared %d", ErrInvalid, len(content), declared)
	}
	return nil
}

// MessageID validates a stored message id.
func MessageID(id int64) error {
	if id < 0 {
		return fmt.Errorf("%w: message id must be >= 0, got %d", ErrInvalid, id)
	}
	return nil
}
