package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"msgrelay/protocol"
	"msgrelay/sanitize"
)

// InsertMessage stores a message for to and returns its id.
//
// A nil content with a positive declaredSize inserts a placeholder that
// SetMessageContent fills later; placeholders are not listed until filled.
// ErrNotFound is returned when either endpoint is not a registered user.
func (s *Store) InsertMessage(to, from protocol.ClientID, msgType protocol.MessageType, declaredSize uint32, content []byte) (int64, error) {
	toHex, fromHex := to.String(), from.String()
	if err := sanitize.ClientID(toHex); err != nil {
		return 0, err
	}
	if err := sanitize.ClientID(fromHex); err != nil {
		return 0, err
	}
	if err := sanitize.MessageType(int(msgType)); err != nil {
		return 0, err
	}
	if content != nil || declaredSize == 0 {
		if err := sanitize.Content(declaredSize, content); err != nil {
			return 0, err
		}
	}

	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		for _, endpoint := range []string{toHex, fromHex} {
			var exists int
			if err := tx.QueryRow(
				`SELECT EXISTS(SELECT 1 FROM users WHERE client_id = ?)`,
				endpoint,
			).Scan(&exists); err != nil {
				return fmt.Errorf("check message endpoint %s: %w", endpoint, err)
			}
			if exists == 0 {
				return fmt.Errorf("%w: user %s", ErrNotFound, endpoint)
			}
		}

		res, err := tx.Exec(
			`INSERT INTO messages (to_client, from_client, type, content_size, content) VALUES (?, ?, ?, ?, ?)`,
			toHex,
			fromHex,
			int(msgType),
			int64(declaredSize),
			nullBlob(content),
		)
		if err != nil {
			return fmt.Errorf("insert message %s -> %s: %w", fromHex, toHex, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("read inserted message id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// SetMessageContent fills a placeholder. The content length must equal the
// declared size recorded at insert time.
func (s *Store) SetMessageContent(id int64, content []byte) error {
	if err := sanitize.MessageID(id); err != nil {
		return err
	}

	return s.withTx(func(tx *sql.Tx) error {
		var declared int64
		if err := tx.QueryRow(`SELECT content_size FROM messages WHERE id = ?`, id).Scan(&declared); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("read message %d size: %w", id, err)
		}
		if err := sanitize.Content(uint32(declared), content); err != nil {
			return err
		}

		if _, err := tx.Exec(`UPDATE messages SET content = ? WHERE id = ?`, nullBlob(content), id); err != nil {
			return fmt.Errorf("set message %d content: %w", id, err)
		}
		return nil
	})
}

// ListMessagesFor returns every complete message addressed to id in ascending
// id order. Rows are fully read before returning so callers may delete them.
func (s *Store) ListMessagesFor(id protocol.ClientID) ([]Message, error) {
	hexID := id.String()
	if err := sanitize.ClientID(hexID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, to_client, from_client, type, content_size, content
		FROM messages
		WHERE to_client = ?
		  AND (content_size = 0 OR length(content) = content_size)
		ORDER BY id ASC`,
		hexID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", hexID, err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

// DeleteMessage removes one message row.
func (s *Store) DeleteMessage(id int64) error {
	if err := sanitize.MessageID(id); err != nil {
		return err
	}

	res, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for message %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// PurgeIncompleteMessages deletes placeholders whose content never arrived.
func (s *Store) PurgeIncompleteMessages() (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM messages
		WHERE content_size > 0
		  AND (content IS NULL OR length(content) != content_size)`,
	)
	if err != nil {
		return 0, fmt.Errorf("purge incomplete messages: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read purged rows: %w", err)
	}

	return rowsAffected, nil
}

// CountMessages returns the number of stored messages, including placeholders.
func (s *Store) CountMessages() (int64, error) {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		message     Message
		toHex       string
		fromHex     string
		msgType     int
		contentSize int64
	)
	if err := row.Scan(&message.ID, &toHex, &fromHex, &msgType, &contentSize, &message.Content); err != nil {
		return nil, err
	}

	to, err := decodeClientID(toHex)
	if err != nil {
		return nil, err
	}
	from, err := decodeClientID(fromHex)
	if err != nil {
		return nil, err
	}
	parsedType, err := protocol.ParseMessageType(msgType)
	if err != nil {
		return nil, fmt.Errorf("stored message %d: %w", message.ID, err)
	}

	message.To = to
	message.From = from
	message.Type = parsedType
	message.ContentSize = uint32(contentSize)
	if len(message.Content) == 0 {
		message.Content = nil
	}
	return &message, nil
}

func nullBlob(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}
