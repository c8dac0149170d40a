// Package userauth is the trust core's User Auth shell: the minimal
// credential-check and user-token-mint surface spec.md treats as an
// external collaborator, adapted here from the teacher's in-memory mock
// identity provider into a real (if dev-grade) register/login service.
package userauth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/trustcore/identity-platform/internal/delegation"
)

// ErrUserExists is returned by Register when the username is already taken.
var ErrUserExists = errors.New("userauth: username already registered")

// ErrInvalidCredentials is returned by Login on a username/password
// mismatch or unknown user, without distinguishing which (to avoid
// leaking registered usernames).
var ErrInvalidCredentials = errors.New("userauth: invalid username or password")

// SessionTokenTTL is the validity window of a minted user session token.
const SessionTokenTTL = time.Hour

type user struct {
	id           string
	email        string
	passwordHash []byte
}

// Shell is an in-memory user registry guarded by a RWMutex, mirroring the
// teacher's mock identity provider's map-of-users pattern. Passwords are
// hashed with bcrypt rather than the teacher's plaintext compare.
type Shell struct {
	mu          sync.RWMutex
	users       map[string]*user
	tokenIssuer *delegation.Issuer
}

// NewShell creates a user auth shell. tokenIssuer mints session tokens
// reusing the same signing primitive as delegation tokens.
func NewShell(tokenIssuer *delegation.Issuer) *Shell {
	return &Shell{
		users:       make(map[string]*user),
		tokenIssuer: tokenIssuer,
	}
}

// Register creates a new user with a bcrypt-hashed password, returning the
// generated user id.
func (s *Shell) Register(username, email, password string) (string, error) {
	if username == "" || password == "" {
		return "", fmt.Errorf("userauth: username and password are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return "", ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("userauth: hash password: %w", err)
	}

	id := uuid.New().String()
	s.users[username] = &user{id: id, email: email, passwordHash: hash}
	return id, nil
}

// Login verifies username/password and, on success, mints a user session
// token via the shared delegation token machinery: same HS256
// signing primitive as a delegation token, but no aud claim and a distinct
// claim shape (UserID only, no target-workload permissions).
func (s *Shell) Login(username, password string) (token string, expiresIn int, err error) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		return "", 0, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return "", 0, ErrInvalidCredentials
	}

	return s.tokenIssuer.IssueSessionToken(u.id, int(SessionTokenTTL.Seconds()))
}
