// Package confirm implements the short-lived token store that gates
// mutating calls arriving over the non-interactive tool adapter. A plan
// call issues a token bound to (binding, plan hash); the later apply must
// present the token, and it is accepted only while the plan bytes are
// unchanged. This is the only process-wide state outside the core pipeline,
// and it is owned by the adapter, never by core logic.
package confirm

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/ids"
)

// TokenTTL bounds token validity.
const TokenTTL = 10 * time.Minute

const tokenLenBytes = 32

// Binding scopes a token to the invocation shape that produced its plan.
type Binding struct {
	Repo    string `json:"repo,omitempty"`
	Profile string `json:"profile,omitempty"`
	Target  string `json:"target,omitempty"`
	Machine string `json:"machine,omitempty"`
}

type entry struct {
	binding   Binding
	planHash  string
	expiresAt time.Time
}

// Store holds live tokens in memory, guarded by a mutex. Expired entries
// linger one extra TTL so late callers get E_CONFIRM_TOKEN_EXPIRED rather
// than an opaque mismatch.
type Store struct {
	mu     sync.Mutex
	tokens map[string]entry
	now    func() time.Time
}

// NewStore creates an empty token store.
func NewStore() *Store {
	return &Store{tokens: make(map[string]entry), now: time.Now}
}

// cleanupLocked drops entries whose expiry grace window has ended.
func (s *Store) cleanupLocked(now time.Time) {
	for token, e := range s.tokens {
		if !now.Before(e.expiresAt.Add(TokenTTL)) {
			delete(s.tokens, token)
		}
	}
}

// Issue mints a token for (binding, planHash).
func (s *Store) Issue(binding Binding, planHash string) (string, time.Time, error) {
	token, err := generateToken()
	if err != nil {
		return "", time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.cleanupLocked(now)
	expiresAt := now.Add(TokenTTL)
	s.tokens[token] = entry{binding: binding, planHash: planHash, expiresAt: expiresAt}
	return token, expiresAt, nil
}

// Validate checks a presented token against its binding and returns the
// bound plan hash. The token stays live; Consume removes it after a
// successful apply.
func (s *Store) Validate(token string, binding Binding) (string, error) {
	if token == "" {
		return "", apperr.New(apperr.CodeConfirmTokenRequired,
			"mutating call requires a confirm_token from a prior plan call")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	defer s.cleanupLocked(now)

	e, ok := s.tokens[token]
	if !ok {
		return "", apperr.New(apperr.CodeConfirmTokenMismatch, "unknown confirm_token")
	}
	if !now.Before(e.expiresAt) {
		delete(s.tokens, token)
		return "", apperr.New(apperr.CodeConfirmTokenExpired, "confirm_token has expired")
	}
	if e.binding != binding {
		return "", apperr.New(apperr.CodeConfirmTokenMismatch,
			"confirm_token was issued for a different invocation")
	}
	return e.planHash, nil
}

// Consume removes a token after successful use.
func (s *Store) Consume(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// Len reports the live token count (including grace-period entries).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// PlanHash derives the canonical hash binding a token to plan content:
// sha256 over the JSON of {binding, data}. encoding/json sorts map keys,
// which gives the canonical form.
func PlanHash(binding Binding, data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	payload := struct {
		Binding Binding        `json:"binding"`
		Data    map[string]any `json:"data"`
	}{Binding: binding, Data: data}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("serialize plan hash input: %w", err)
	}
	return ids.SHA256Hex(raw), nil
}

func generateToken() (string, error) {
	var buf [tokenLenBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate confirm_token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
