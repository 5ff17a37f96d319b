package sanitize

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{name: "simple", input: "alice", ok: true},
		{name: "spaces and punctuation", input: "Bob O'Brien ~!", ok: true},
		{name: "max length", input: strings.Repeat("a", 255), ok: true},
		{name: "empty", input: ""},
		{name: "too long", input: strings.Repeat("a", 256)},
		{name: "drop table", input: "x; drop table Users"},
		{name: "insert into mixed case", input: "InSeRt InTo"},
		{name: "delete from", input: "DELETE FROM Messages"},
		{name: "create table", input: "create table t"},
		{name: "select pattern", input: "select * from Users"},
		{name: "select column pattern", input: "SELECT name FROM Users"},
		{name: "select without from", input: "selecting friends", ok: true},
		{name: "tab", input: "al\tice"},
		{name: "null byte", input: "al\x00ice"},
		{name: "del char", input: "alice\x7f"},
		{name: "non ascii", input: "alicé"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Name(tc.input)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestClientID(t *testing.T) {
	require.NoError(t, ClientID(strings.Repeat("ab", 16)))
	require.NoError(t, ClientID(strings.Repeat("AB", 16)))
	require.ErrorIs(t, ClientID(strings.Repeat("ab", 15)), ErrInvalid)
	require.ErrorIs(t, ClientID(strings.Repeat("zz", 16)), ErrInvalid)
	require.ErrorIs(t, ClientID(""), ErrInvalid)
}

func TestPublicKey(t *testing.T) {
	key := hex.EncodeToString(make([]byte, 160))
	require.NoError(t, PublicKey(key))
	require.ErrorIs(t, PublicKey(key[:318]), ErrInvalid)
	require.ErrorIs(t, PublicKey(key[:319]+"g"), ErrInvalid)
}

func TestLastSeen(t *testing.T) {
	require.NoError(t, LastSeen(0))
	require.NoError(t, LastSeen(1_700_000_000))
	require.ErrorIs(t, LastSeen(-1), ErrInvalid)
}

func TestMessageType(t *testing.T) {
	for raw := 1; raw <= 4; raw++ {
		require.NoError(t, MessageType(raw))
	}
	require.ErrorIs(t, MessageType(0), ErrInvalid)
	require.ErrorIs(t, MessageType(5), ErrInvalid)
}

func TestContent(t *testing.T) {
	require.NoError(t, Content(0, nil))
	require.NoError(t, Content(0, []byte{}))
	require.NoError(t, Content(2, []byte("hi")))
	require.ErrorIs(t, Content(2, nil), ErrInvalid)
	require.ErrorIs(t, Content(2, []byte("h")), ErrInvalid)
	require.ErrorIs(t, Content(2, []byte("hey")), ErrInvalid)
	require.ErrorIs(t, Content(0, []byte("x")), ErrInvalid)
}

func TestMessageID(t *testing.T) {
	require.NoError(t, MessageID(0))
	require.NoError(t, MessageID(42))
	require.ErrorIs(t, MessageID(-3), ErrInvalid)
}
