// Package pending holds destructive actions that are waiting for the user to
// confirm them. Each proposal gets a random single-use token.
package pending

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"rasweb/internal/metrics"
)

var (
	ErrUnknownToken = errors.New("unknown or already used confirmation token")
	ErrExpired      = errors.New("confirmation token expired")
)

type Action struct {
	Token     string            `json:"token"`
	Name      string            `json:"action"`
	Target    string            `json:"target"`
	Params    map[string]string `json:"params,omitempty"`
	Prompt    string            `json:"prompt"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Confirmed is a confirmed action. Only Store.Confirm produces one, so holding
// it proves the user answered the prompt for exactly this action and target.
type Confirmed struct {
	action Action
}

func (c Confirmed) Action() Action { return c.action }

// Confirms reports whether c was issued for action on target.
func (c Confirmed) Confirms(action, target string) bool {
	return c.action.Token != "" && c.action.Name == action && c.action.Target == target
}

type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	actions map[string]Action
	// expired tokens are remembered briefly so Confirm can tell stale from forged
	expired map[string]time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{
		ttl:     ttl,
		now:     time.Now,
		actions: map[string]Action{},
		expired: map[string]time.Time{},
	}
}

func (s *Store) TTL() time.Duration { return s.ttl }

// Propose records a new pending action and returns it with its token.
func (s *Store) Propose(name, target string, params map[string]string, prompt string) Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	now := s.now()
	a := Action{
		Token:     uuid.NewString(),
		Name:      name,
		Target:    target,
		Params:    copyParams(params),
		Prompt:    prompt,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.actions[a.Token] = a
	metrics.SetPending(len(s.actions))
	return a
}

// Get returns the pending action without consuming it.
func (s *Store) Get(token string) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	if a, ok := s.actions[token]; ok {
		a.Params = copyParams(a.Params)
		return a, nil
	}
	if _, ok := s.expired[token]; ok {
		return Action{}, ErrExpired
	}
	return Action{}, ErrUnknownToken
}

// Confirm consumes token. A token confirms at most once.
func (s *Store) Confirm(token string) (Confirmed, error) {
	a, err := s.take(token)
	if err != nil {
		return Confirmed{}, err
	}
	return Confirmed{action: a}, nil
}

// Cancel drops the pending action for token and returns it.
func (s *Store) Cancel(token string) (Action, error) {
	return s.take(token)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	return len(s.actions)
}

func (s *Store) take(token string) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	a, ok := s.actions[token]
	if !ok {
		if _, stale := s.expired[token]; stale {
			delete(s.expired, token)
			return Action{}, ErrExpired
		}
		return Action{}, ErrUnknownToken
	}
	delete(s.actions, token)
	metrics.SetPending(len(s.actions))
	return a, nil
}

func (s *Store) purgeLocked() {
	now := s.now()
	for tok, a := range s.actions {
		if !now.Before(a.ExpiresAt) {
			delete(s.actions, tok)
			s.expired[tok] = a.ExpiresAt
		}
	}
	for tok, at := range s.expired {
		if now.Sub(at) > s.ttl {
			delete(s.expired, tok)
		}
	}
	metrics.SetPending(len(s.actions))
}

func copyParams(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
