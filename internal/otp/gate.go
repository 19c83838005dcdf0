// Package otp implements the one-time-password gate in front of the
// transaction engine. Codes are scoped to a (channel, destination, purpose)
// triple and stored in Redis; the record is retained past its validity
// window so an expired code is distinguishable from one that never existed.
package otp

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var (
	ErrNotFound        = errors.New("otp: no code issued")
	ErrWrongPurpose    = errors.New("otp: purpose mismatch")
	ErrExpired         = errors.New("otp: code expired")
	ErrMismatch        = errors.New("otp: wrong code")
	ErrTooManyAttempts = errors.New("otp: attempt limit reached")
)

// Channels a code can be delivered over.
const (
	ChannelEmail = "EMAIL"
	ChannelSMS   = "SMS"
)

// Purposes gate distinct operations; a code issued for one purpose never
// verifies another.
const (
	PurposeTransfer = "TRANSFER"
	PurposeTopUp    = "TOP_UP"
	PurposeWithdraw = "WITHDRAW"
)

type record struct {
	Code     string    `json:"code"`
	Purpose  string    `json:"purpose"`
	IssuedAt time.Time `json:"issued_at"`
	Attempts int       `json:"attempts"`
}

// Gate issues and verifies codes.
type Gate struct {
	rdb         *redis.Client
	ttl         time.Duration
	maxAttempts int
	log         *zap.SugaredLogger

	// codeFn is swapped out in tests for a deterministic code.
	codeFn func() (string, error)
}

// NewGate constructs a gate with the given validity window and attempt cap.
func NewGate(rdb *redis.Client, ttl time.Duration, maxAttempts int, log *zap.SugaredLogger) *Gate {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Gate{rdb: rdb, ttl: ttl, maxAttempts: maxAttempts, log: log, codeFn: sixDigits}
}

func sixDigits() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func key(channel, destination string) string {
	return fmt.Sprintf("otp:%s:%s", channel, destination)
}

// Generate issues a fresh code, replacing any outstanding one for the same
// channel+destination. The record lives twice the validity window so Verify
// can report expiry instead of absence.
func (g *Gate) Generate(ctx context.Context, channel, destination, purpose string) (string, error) {
	code, err := g.codeFn()
	if err != nil {
		return "", err
	}
	rec := record{Code: code, Purpose: purpose, IssuedAt: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := g.rdb.Set(ctx, key(channel, destination), string(data), 2*g.ttl).Err(); err != nil {
		return "", err
	}
	return code, nil
}

// Verify checks the submitted code. A successful verification consumes the
// record; so does exhausting the attempt limit.
func (g *Gate) Verify(ctx context.Context, channel, destination, code, purpose string) error {
	k := key(channel, destination)
	data, err := g.rdb.Get(ctx, k).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var rec record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return err
	}
	if rec.Purpose != purpose {
		return ErrWrongPurpose
	}
	if time.Since(rec.IssuedAt) > g.ttl {
		if err := g.rdb.Del(ctx, k).Err(); err != nil {
			g.log.Warnf("otp: delete expired record: %v", err)
		}
		return ErrExpired
	}
	if rec.Code != code {
		rec.Attempts++
		if rec.Attempts >= g.maxAttempts {
			if err := g.rdb.Del(ctx, k).Err(); err != nil {
				g.log.Warnf("otp: delete exhausted record: %v", err)
			}
			return ErrTooManyAttempts
		}
		updated, _ := json.Marshal(rec)
		if err := g.rdb.Set(ctx, k, string(updated), redis.KeepTTL).Err(); err != nil {
			g.log.Warnf("otp: persist attempt count: %v", err)
		}
		return ErrMismatch
	}
	if err := g.rdb.Del(ctx, k).Err(); err != nil {
		g.log.Warnf("otp: consume record: %v", err)
	}
	return nil
}

// AttemptsLeft reports remaining tries for an outstanding code, 0 when none.
func (g *Gate) AttemptsLeft(ctx context.Context, channel, destination string) int {
	data, err := g.rdb.Get(ctx, key(channel, destination)).Result()
	if err != nil {
		return 0
	}
	var rec record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return 0
	}
	left := g.maxAttempts - rec.Attempts
	if left < 0 {
		return 0
	}
	return left
}
