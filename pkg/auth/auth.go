// Package auth implements the optional bearer-token authentication used by
// both servers: a request's `username:api_key` token is matched against a
// SHA-256 hash from a configured user table, compared in constant time,
// with an optional audit-log callback recording every attempt.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vectorkv/vectorkv/pkg/schema"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// AuditEvent records one authentication attempt, for callers that want an
// audit trail of connection attempts.
type AuditEvent struct {
	Timestamp time.Time
	Username  string
	Address   string
	Success   bool
}

// Authenticator holds the configured user table: username to the SHA-256
// hash of their api_key.
type Authenticator struct {
	mu       sync.RWMutex
	users    map[string]string // username -> hex-encoded SHA-256(api_key)
	auditLog func(AuditEvent)
}

// New creates an empty Authenticator.
func New() *Authenticator {
	return &Authenticator{users: make(map[string]string)}
}

// SetAuditLog installs a callback invoked after every Authenticate call.
func (a *Authenticator) SetAuditLog(fn func(AuditEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.auditLog = fn
}

// hashKey returns the hex-encoded SHA-256 digest of an api_key.
func hashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// AddUser registers username with the hash of apiKey, failing if the
// username is already configured.
func (a *Authenticator) AddUser(username, apiKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[username]; ok {
		return ErrUserExists
	}
	a.users[username] = hashKey(apiKey)
	return nil
}

// LoadUsers replaces the entire user table with username -> api_key hash
// pairs already hashed (e.g. loaded from --auth-config).
func (a *Authenticator) LoadUsers(hashedUsers map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users = make(map[string]string, len(hashedUsers))
	for user, hash := range hashedUsers {
		a.users[user] = hash
	}
}

// Authenticate validates a bearer token of the form "username:api_key"
// against the configured table using a constant-time comparison on the
// hash, failing with Unauthenticated on any mismatch. address is used only
// for the audit log.
func (a *Authenticator) Authenticate(token, address string) error {
	username, apiKey, ok := splitToken(token)
	if !ok {
		a.audit(username, address, false)
		return schema.NewError(schema.TagUnauthenticated, "malformed bearer token")
	}

	a.mu.RLock()
	want, known := a.users[username]
	fn := a.auditLog
	a.mu.RUnlock()

	got := hashKey(apiKey)
	ok = known && subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1

	if fn != nil {
		fn(AuditEvent{Timestamp: time.Now(), Username: username, Address: address, Success: ok})
	}
	if !ok {
		return schema.NewError(schema.TagUnauthenticated, "invalid credentials for %q", username)
	}
	return nil
}

func (a *Authenticator) audit(username, address string, success bool) {
	a.mu.RLock()
	fn := a.auditLog
	a.mu.RUnlock()
	if fn != nil {
		fn(AuditEvent{Timestamp: time.Now(), Username: username, Address: address, Success: success})
	}
}

// splitToken parses "username:api_key", failing if the separator is
// missing or either half is empty.
func splitToken(token string) (username, apiKey string, ok bool) {
	for i := 0; i < len(token); i++ {
		if token[i] == ':' {
			username, apiKey = token[:i], token[i+1:]
			return username, apiKey, username != "" && apiKey != ""
		}
	}
	return "", "", false
}

// String renders the event for a log line. The raw token never appears.
func (e AuditEvent) String() string {
	return fmt.Sprintf("auth[%s] user=%s addr=%s success=%v", e.Timestamp.Format(time.RFC3339), e.Username, e.Address, e.Success)
}
