package otp

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestGate(t *testing.T) (*Gate, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	g := NewGate(client, 5*time.Minute, 3, zap.NewNop().Sugar())
	return g, mock
}

func storedRecord(t *testing.T, code, purpose string, issued time.Time, attempts int) string {
	t.Helper()
	data, err := json.Marshal(record{Code: code, Purpose: purpose, IssuedAt: issued, Attempts: attempts})
	assert.NoError(t, err)
	return string(data)
}

func TestGenerateStoresRecordAtDoubleTTL(t *testing.T) {
	g, mock := newTestGate(t)
	g.codeFn = func() (string, error) { return "123456", nil }

	mock.Regexp().ExpectSet("otp:EMAIL:an@example.com",
		`\{"code":"123456","purpose":"TRANSFER",.*\}`, 10*time.Minute).SetVal("OK")

	code, err := g.Generate(context.Background(), ChannelEmail, "an@example.com", PurposeTransfer)
	assert.NoError(t, err)
	assert.Equal(t, "123456", code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifySuccessConsumesRecord(t *testing.T) {
	g, mock := newTestGate(t)
	k := "otp:EMAIL:an@example.com"

	mock.ExpectGet(k).SetVal(storedRecord(t, "123456", PurposeTransfer, time.Now(), 0))
	mock.ExpectDel(k).SetVal(1)

	err := g.Verify(context.Background(), ChannelEmail, "an@example.com", "123456", PurposeTransfer)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyNeverIssued(t *testing.T) {
	g, mock := newTestGate(t)
	mock.ExpectGet("otp:SMS:0901234567").RedisNil()

	err := g.Verify(context.Background(), ChannelSMS, "0901234567", "123456", PurposeTopUp)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyWrongPurpose(t *testing.T) {
	g, mock := newTestGate(t)
	k := "otp:EMAIL:an@example.com"
	mock.ExpectGet(k).SetVal(storedRecord(t, "123456", PurposeWithdraw, time.Now(), 0))

	err := g.Verify(context.Background(), ChannelEmail, "an@example.com", "123456", PurposeTransfer)
	assert.ErrorIs(t, err, ErrWrongPurpose)
}

func TestVerifyExpiredIsNotAbsent(t *testing.T) {
	g, mock := newTestGate(t)
	k := "otp:EMAIL:an@example.com"

	// issued 10 minutes ago, validity window is 5: record still stored
	mock.ExpectGet(k).SetVal(storedRecord(t, "123456", PurposeTransfer, time.Now().Add(-10*time.Minute), 0))
	mock.ExpectDel(k).SetVal(1)

	err := g.Verify(context.Background(), ChannelEmail, "an@example.com", "123456", PurposeTransfer)
	assert.ErrorIs(t, err, ErrExpired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyMismatchPersistsAttemptCount(t *testing.T) {
	g, mock := newTestGate(t)
	k := "otp:EMAIL:an@example.com"
	issued := time.Now().Add(-time.Minute)

	mock.ExpectGet(k).SetVal(storedRecord(t, "123456", PurposeTransfer, issued, 0))
	updated := storedRecord(t, "123456", PurposeTransfer, issued, 1)
	mock.Regexp().ExpectSet(k, regexp.QuoteMeta(updated), redis.KeepTTL).SetVal("OK")

	err := g.Verify(context.Background(), ChannelEmail, "an@example.com", "654321", PurposeTransfer)
	assert.ErrorIs(t, err, ErrMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyAttemptLimitConsumesRecord(t *testing.T) {
	g, mock := newTestGate(t)
	k := "otp:EMAIL:an@example.com"

	mock.ExpectGet(k).SetVal(storedRecord(t, "123456", PurposeTransfer, time.Now(), 2))
	mock.ExpectDel(k).SetVal(1)

	err := g.Verify(context.Background(), ChannelEmail, "an@example.com", "000000", PurposeTransfer)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptsLeft(t *testing.T) {
	g, mock := newTestGate(t)
	k := "otp:EMAIL:an@example.com"

	mock.ExpectGet(k).SetVal(storedRecord(t, "123456", PurposeTransfer, time.Now(), 1))
	assert.Equal(t, 2, g.AttemptsLeft(context.Background(), ChannelEmail, "an@example.com"))

	mock.ExpectGet(k).RedisNil()
	assert.Equal(t, 0, g.AttemptsLeft(context.Background(), ChannelEmail, "an@example.com"))
}
