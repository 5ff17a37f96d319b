package storage

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"msgrelay/protocol"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrConflict indicates an insert collided with a unique column.
	ErrConflict = errors.New("storage: record already exists")
)

// User is the SQLite representation of a registered client.
type User struct {
	ClientID  protocol.ClientID
	Name      string
	PublicKey []byte
	LastSeen  int64
}

// UserSummary is the identifier and name pair returned by ListUsers.
type UserSummary struct {
	ClientID protocol.ClientID
	Name     string
}

// Message is the SQLite representation of a message waiting for pickup.
type Message struct {
	ID          int64
	To          protocol.ClientID
	From        protocol.ClientID
	Type        protocol.MessageType
	ContentSize uint32
	Content     []byte
}

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func decodeClientID(hexID string) (protocol.ClientID, error) {
	id, err := protocol.ParseClientID(hexID)
	if err != nil {
		return protocol.ClientID{}, fmt.Errorf("stored client id %q: %w", hexID, err)
	}
	return id, nil
}

func decodePublicKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("stored public key: %w", err)
	}
	return key, nil
}
