package userauth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trustcore/identity-platform/internal/delegation"
)

func newTestShell(t *testing.T) *Shell {
	t.Helper()
	issuer, err := delegation.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), "example.org", "user-service")
	require.NoError(t, err)
	return NewShell(issuer)
}

func TestRegisterThenLogin(t *testing.T) {
	s := newTestShell(t)

	userID, err := s.Register("alice", "alice@example.com", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	token, expiresIn, err := s.Login("alice", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, int(SessionTokenTTL.Seconds()), expiresIn)
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	s := newTestShell(t)
	_, err := s.Register("alice", "alice@example.com", "hunter2")
	require.NoError(t, err)

	_, err = s.Register("alice", "alice2@example.com", "otherpass")
	require.ErrorIs(t, err, ErrUserExists)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s := newTestShell(t)
	_, err := s.Register("alice", "alice@example.com", "hunter2")
	require.NoError(t, err)

	_, _, err = s.Login("alice", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	s := newTestShell(t)
	_, _, err := s.Login("nobody", "whatever")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
