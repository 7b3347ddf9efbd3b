// Package admin gates destructive maintenance behind a one-time confirmation.
package admin

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrInvalidChallenge = errors.New("admin: confirmation token is unknown, expired or already used")

// Challenge is a pending confirmation for a destructive action.
type Challenge struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ChallengeStore issues confirmation tokens and consumes them at most once.
type ChallengeStore interface {
	Issue(ctx context.Context, subject string, ttl time.Duration) (Challenge, error)
	// Consume succeeds exactly once for a live token issued to subject.
	Consume(ctx context.Context, token, subject string) error
}

func newChallenge(subject string, ttl time.Duration, now time.Time) Challenge {
	return Challenge{Token: uuid.NewString(), Subject: subject, ExpiresAt: now.Add(ttl).UTC()}
}

// RedisChallenges keeps challenges under "<prefix><token>" with a TTL, so
// every API replica sees the same pending confirmations.
type RedisChallenges struct {
	client *redis.Client
	prefix string
}

func NewRedisChallenges(client *redis.Client, prefix string) *RedisChallenges {
	if prefix == "" {
		prefix = "clear:challenge:"
	}
	return &RedisChallenges{client: client, prefix: prefix}
}

func (r *RedisChallenges) Issue(ctx context.Context, subject string, ttl time.Duration) (Challenge, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	ch := newChallenge(subject, ttl, time.Now())
	if err := r.client.Set(ctx, r.prefix+ch.Token, subject, ttl).Err(); err != nil {
		return Challenge{}, err
	}
	return ch, nil
}

func (r *RedisChallenges) Consume(ctx context.Context, token, subject string) error {
	if token == "" {
		return ErrInvalidChallenge
	}
	owner, err := r.client.GetDel(ctx, r.prefix+token).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrInvalidChallenge
		}
		return err
	}
	if owner != subject {
		return ErrInvalidChallenge
	}
	return nil
}

// MemoryChallenges is the single-process ChallengeStore used when Redis is
// not configured.
type MemoryChallenges struct {
	mu      sync.Mutex
	pending map[string]Challenge
	now     func() time.Time
}

func NewMemoryChallenges() *MemoryChallenges {
	return &MemoryChallenges{pending: map[string]Challenge{}, now: time.Now}
}

func (m *MemoryChallenges) Issue(_ context.Context, subject string, ttl time.Duration) (Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for tok, ch := range m.pending {
		if !now.Before(ch.ExpiresAt) {
			delete(m.pending, tok)
		}
	}
	ch := newChallenge(subject, ttl, now)
	m.pending[ch.Token] = ch
	return ch, nil
}

func (m *MemoryChallenges) Consume(_ context.Context, token, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.pending[token]
	if !ok {
		return ErrInvalidChallenge
	}
	delete(m.pending, token)
	if ch.Subject != subject || !m.now().Before(ch.ExpiresAt) {
		return ErrInvalidChallenge
	}
	return nil
}
