package repositories

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const proofPayloadPrefix = "ton-proof:payload:"

// ErrProofPayloadUnknown is returned for nonces that were never issued,
// already used, or expired.
var ErrProofPayloadUnknown = errors.New("proof payload unknown or expired")

// ProofPayloads issues single-use TON proof nonces.
type ProofPayloads interface {
	Create(ctx context.Context, ttl time.Duration) (string, error)
	Consume(ctx context.Context, payload string) error
}

// ProofPayloadRepo stores single-use TON proof nonces in Redis.
type ProofPayloadRepo struct {
	rdb *redis.Client
}

func NewProofPayloadRepo(rdb *redis.Client) *ProofPayloadRepo {
	return &ProofPayloadRepo{rdb: rdb}
}

func (r *ProofPayloadRepo) Create(ctx context.Context, ttl time.Duration) (string, error) {
	payload := generateNonce(32)
	ok, err := r.rdb.SetNX(ctx, proofPayloadPrefix+payload, "1", ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("proof payload collision")
	}
	return payload, nil
}

// Consume deletes the nonce, succeeding only for its first use.
func (r *ProofPayloadRepo) Consume(ctx context.Context, payload string) error {
	if payload == "" {
		return ErrProofPayloadUnknown
	}
	_, err := r.rdb.GetDel(ctx, proofPayloadPrefix+payload).Result()
	if errors.Is(err, redis.Nil) {
		return ErrProofPayloadUnknown
	}
	return err
}

func generateNonce(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// MemoryProofPayloads is the single-process stand-in for ProofPayloadRepo
// when no Redis is configured.
type MemoryProofPayloads struct {
	mu      sync.Mutex
	expires map[string]time.Time
	nowFn   func() time.Time
}

func NewMemoryProofPayloads() *MemoryProofPayloads {
	return &MemoryProofPayloads{
		expires: make(map[string]time.Time),
		nowFn:   time.Now,
	}
}

func (m *MemoryProofPayloads) Create(_ context.Context, ttl time.Duration) (string, error) {
	payload := generateNonce(32)
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	for p, exp := range m.expires {
		if !now.Before(exp) {
			delete(m.expires, p)
		}
	}
	m.expires[payload] = now.Add(ttl)
	return payload, nil
}

func (m *MemoryProofPayloads) Consume(_ context.Context, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expires[payload]
	if !ok {
		return ErrProofPayloadUnknown
	}
	delete(m.expires, payload)
	if !m.nowFn().Before(exp) {
		return ErrProofPayloadUnknown
	}
	return nil
}
