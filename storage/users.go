package storage

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"msgrelay/protocol"
	"msgrelay/sanitize"
)

// RegisterUser creates a user with a fresh random identifier.
// A taken name yields ErrConflict.
func (s *Store) RegisterUser(name string, publicKey []byte) (protocol.ClientID, error) {
	if err := sanitize.Name(name); err != nil {
		return protocol.ClientID{}, err
	}
	hexKey := hex.EncodeToString(publicKey)
	if err := sanitize.PublicKey(hexKey); err != nil {
		return protocol.ClientID{}, err
	}
	lastSeen := s.now().Unix()
	if err := sanitize.LastSeen(lastSeen); err != nil {
		return protocol.ClientID{}, err
	}

	var id protocol.ClientID
	err := s.withTx(func(tx *sql.Tx) error {
		var taken int
		if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE name = ?)`, name).Scan(&taken); err != nil {
			return fmt.Errorf("check user name %q: %w", name, err)
		}
		if taken == 1 {
			return fmt.Errorf("%w: user name %q", ErrConflict, name)
		}

		id = protocol.ClientID(uuid.New())
		_, err := tx.Exec(
			`INSERT INTO users (client_id, name, public_key, last_seen) VALUES (?, ?, ?, ?)`,
			id.String(),
			name,
			hexKey,
			lastSeen,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: user %q: %v", ErrConflict, name, err)
			}
			return fmt.Errorf("insert user %q: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return protocol.ClientID{}, err
	}

	return id, nil
}

// GetUserByName fetches a user by display name.
func (s *Store) GetUserByName(name string) (*User, error) {
	if err := sanitize.Name(name); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(
		`SELECT client_id, name, public_key, last_seen FROM users WHERE name = ?`,
		name,
	)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by name %q: %w", name, err)
	}
	return user, nil
}

// GetUserByID fetches a user by identifier.
func (s *Store) GetUserByID(id protocol.ClientID) (*User, error) {
	hexID := id.String()
	if err := sanitize.ClientID(hexID); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(
		`SELECT client_id, name, public_key, last_seen FROM users WHERE client_id = ?`,
		hexID,
	)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", hexID, err)
	}
	return user, nil
}

// ListUsers returns every registered user ordered by registration.
func (s *Store) ListUsers() ([]UserSummary, error) {
	rows, err := s.db.Query(`SELECT client_id, name FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]UserSummary, 0)
	for rows.Next() {
		var (
			hexID string
			user  UserSummary
		)
		if err := rows.Scan(&hexID, &user.Name); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		if user.ClientID, err = decodeClientID(hexID); err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}

	return users, nil
}

// UserExists reports whether id belongs to a registered user.
func (s *Store) UserExists(id protocol.ClientID) (bool, error) {
	hexID := id.String()
	if err := sanitize.ClientID(hexID); err != nil {
		return false, err
	}

	var exists int
	if err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM users WHERE client_id = ?)`,
		hexID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check user %s: %w", hexID, err)
	}
	return exists == 1, nil
}

// TouchLastSeen stamps the current time on the user's row.
func (s *Store) TouchLastSeen(id protocol.ClientID) error {
	hexID := id.String()
	if err := sanitize.ClientID(hexID); err != nil {
		return err
	}
	lastSeen := s.now().Unix()
	if err := sanitize.LastSeen(lastSeen); err != nil {
		return err
	}

	res, err := s.db.Exec(`UPDATE users SET last_seen = ? WHERE client_id = ?`, lastSeen, hexID)
	if err != nil {
		return fmt.Errorf("update last seen for %s: %w", hexID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for %s: %w", hexID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func scanUser(row scanner) (*User, error) {
	var (
		hexID  string
		hexKey string
		user   User
	)
	if err := row.Scan(&hexID, &user.Name, &hexKey, &user.LastSeen); err != nil {
		return nil, err
	}

	id, err := decodeClientID(hexID)
	if err != nil {
		return nil, err
	}
	key, err := decodePublicKey(hexKey)
	if err != nil {
		return nil, err
	}
	user.ClientID = id
	user.PublicKey = key
	return &user, nil
}
