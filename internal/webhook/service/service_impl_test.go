package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accesskeydomain "github.com/LoohanZinho/enemaccess/internal/accesskey/domain"
	accesskeyrepository "github.com/LoohanZinho/enemaccess/internal/accesskey/repository"
	accesskeyservice "github.com/LoohanZinho/enemaccess/internal/accesskey/service"
	"github.com/LoohanZinho/enemaccess/internal/clock"
	"github.com/LoohanZinho/enemaccess/internal/config"
	notificationdomain "github.com/LoohanZinho/enemaccess/internal/notification/domain"
	"github.com/LoohanZinho/enemaccess/internal/ratelimit"
	"github.com/LoohanZinho/enemaccess/internal/renewal"
	webhookdomain "github.com/LoohanZinho/enemaccess/internal/webhook/domain"
	"github.com/LoohanZinho/enemaccess/internal/webhook/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "whsec_test"

type dispatcherStub struct {
	mu      sync.Mutex
	intents []notificationdomain.Intent
}

func (d *dispatcherStub) Enqueue(intent notificationdomain.Intent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.intents = append(d.intents, intent)
}

func (d *dispatcherStub) Intents() []notificationdomain.Intent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notificationdomain.Intent(nil), d.intents...)
}

type fixture struct {
	svc        webhookdomain.Service
	keySvc     accesskeydomain.Service
	conn       *gorm.DB
	clock      *clock.FakeClock
	dispatcher *dispatcherStub
	signer     *signature.Verifier
}

func setupIngestor(t *testing.T, perMinute int) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:webhook_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&accesskeydomain.AccessKey{}, &webhookdomain.EventRecord{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	dispatcher := &dispatcherStub{}
	repo := accesskeyrepository.Provide()
	cfg := config.Config{
		Webhook:   config.WebhookConfig{Secret: testSecret, SignatureHeader: "X-Webhook-Signature", Timeout: 15 * time.Second},
		AccessKey: config.AccessKeyConfig{ValidityDays: 30},
		RateLimit: config.RateLimitConfig{PerMinute: perMinute, Retention: 5 * time.Minute},
	}

	keySvc := accesskeyservice.NewService(accesskeyservice.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   repo,
		Clock:  fake,
		Cfg:    cfg,
		Tokens: accesskeydomain.NewTokenGenerator(),
	})
	renewals := renewal.NewCoordinator(renewal.Params{
		DB:         conn,
		Log:        zap.NewNop(),
		Repo:       repo,
		Clock:      fake,
		Cfg:        cfg,
		Dispatcher: dispatcher,
	})

	svc := NewService(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		GenID:      node,
		Cfg:        cfg,
		Clock:      fake,
		KeySvc:     keySvc,
		Renewals:   renewals,
		Limiter:    ratelimit.NewFixedWindow(perMinute, 5*time.Minute, fake),
		Dispatcher: dispatcher,
	})

	return &fixture{
		svc:        svc,
		keySvc:     keySvc,
		conn:       conn,
		clock:      fake,
		dispatcher: dispatcher,
		signer:     signature.NewVerifier(testSecret),
	}
}

func (f *fixture) ingest(t *testing.T, event string, data map[string]any) (webhookdomain.IngestResult, error) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	return f.svc.Ingest(context.Background(), payload, f.signer.Sign(payload), "203.0.113.10")
}

func approvedPayment(paymentID string) map[string]any {
	return map[string]any{
		"id":             paymentID,
		"amount":         49.90,
		"currency":       "BRL",
		"payment_method": "pix",
		"paidAt":         "2026-03-01T12:00:00Z",
		"customer": map[string]any{
			"email":     "aluno@example.com",
			"name":      "Aluno Teste",
			"docNumber": "12345678900",
		},
	}
}

func TestIngestRejectsBadSignature(t *testing.T) {
	f := setupIngestor(t, 60)

	payload := []byte(`{"event":"payment.approved","data":{}}`)
	_, err := f.svc.Ingest(context.Background(), payload, "sha256=deadbeef", "203.0.113.10")
	assert.ErrorIs(t, err, webhookdomain.ErrInvalidSignature)

	_, err = f.svc.Ingest(context.Background(), payload, "", "203.0.113.10")
	assert.ErrorIs(t, err, webhookdomain.ErrInvalidSignature)
}

func TestIngestRateLimited(t *testing.T) {
	f := setupIngestor(t, 2)

	for i := 0; i < 2; i++ {
		_, err := f.ingest(t, webhookdomain.EventPaymentApproved, approvedPayment(fmt.Sprintf("pay_%d", i)))
		require.NoError(t, err)
	}

	_, err := f.ingest(t, webhookdomain.EventPaymentApproved, approvedPayment("pay_over"))
	assert.ErrorIs(t, err, webhookdomain.ErrRateLimited)

	// The next minute opens a fresh window.
	f.clock.Advance(time.Minute)
	_, err = f.ingest(t, webhookdomain.EventPaymentApproved, approvedPayment("pay_over"))
	assert.NoError(t, err)
}

func TestIngestInvalidPayload(t *testing.T) {
	f := setupIngestor(t, 60)

	payload := []byte(`{not json`)
	_, err := f.svc.Ingest(context.Background(), payload, f.signer.Sign(payload), "203.0.113.10")
	assert.ErrorIs(t, err, webhookdomain.ErrInvalidPayload)

	data := approvedPayment("pay_1")
	data["payment_method"] = "barter"
	_, err = f.ingest(t, webhookdomain.EventPaymentApproved, data)
	assert.ErrorIs(t, err, webhookdomain.ErrInvalidPayload)

	data = approvedPayment("pay_2")
	data["customer"] = map[string]any{"name": "Sem Email"}
	_, err = f.ingest(t, webhookdomain.EventPaymentApproved, data)
	assert.ErrorIs(t, err, webhookdomain.ErrInvalidPayload)
}

func TestIngestIssuesKeyOnApproval(t *testing.T) {
	f := setupIngestor(t, 60)

	result, err := f.ingest(t, webhookdomain.EventPaymentApproved, approvedPayment("pay_1"))
	require.NoError(t, err)
	assert.Equal(t, webhookdomain.OutcomeIssued, result.Outcome)
	require.NotNil(t, result.Key)
	assert.Equal(t, "aluno@example.com", result.Key.OwnerID)

	validation, err := f.keySvc.Validate(context.Background(), result.Key.Token)
	require.NoError(t, err)
	assert.True(t, validation.Valid)

	intents := f.dispatcher.Intents()
	require.Len(t, intents, 1)
	assert.Equal(t, notificationdomain.IntentKindKeyIssued, intents[0].Kind)
	assert.Equal(t, result.Key.Token, intents[0].Token)

	var record webhookdomain.EventRecord
	require.NoError(t, f.conn.Where("event_type = ?", webhookdomain.EventPaymentApproved).First(&record).Error)
	assert.NotNil(t, record.ProcessedAt)
	require.NotNil(t, record.DedupeKey)
	assert.Equal(t, "pay_1", *record.DedupeKey)
}

func TestIngestReplayReturnsSameKey(t *testing.T) {
	f := setupIngestor(t, 60)

	first, err := f.ingest(t, webhookdomain.EventPaymentApproved, approvedPayment("pay_1"))
	require.NoError(t, err)

	second, err := f.ingest(t, webhookdomain.EventPaymentApproved, approvedPayment("pay_1"))
	require.NoError(t, err)
	assert.Equal(t, webhookdomain.OutcomeDuplicate, second.Outcome)
	require.NotNil(t, second.Key)
	assert.Equal(t, first.Key.Token, second.Key.Token)

	var keys int64
	require.NoError(t, f.conn.Model(&accesskeydomain.AccessKey{}).Count(&keys).Error)
	assert.Equal(t, int64(1), keys)

	// The replay must not email the student a second time.
	assert.Len(t, f.dispatcher.Intents(), 1)
}

func TestIngestSubscriptionRebillConvergesOnLiveKey(t *testing.T) {
	f := setupIngestor(t, 60)

	first := approvedPayment("pay_1")
	first["subscription_id"] = "sub_1"
	initial, err := f.ingest(t, webhookdomain.EventPaymentApproved, first)
	require.NoError(t, err)
	require.Equal(t, webhookdomain.OutcomeIssued, initial.Outcome)

	// The gateway bills the next cycle as a brand-new payment; the
	// subscription must not end up holding two live keys.
	rebill := approvedPayment("pay_2")
	rebill["subscription_id"] = "sub_1"
	second, err := f.ingest(t, webhookdomain.EventPaymentApproved, rebill)
	require.NoError(t, err)
	assert.Equal(t, webhookdomain.OutcomeDuplicate, second.Outcome)
	require.NotNil(t, second.Key)
	assert.Equal(t, initial.Key.Token, second.Key.Token)

	var live int64
	require.NoError(t, f.conn.Model(&accesskeydomain.AccessKey{}).
		Where("subscription_id = ? AND status IN (?, ?)", "sub_1",
			accesskeydomain.KeyStatusActive, accesskeydomain.KeyStatusUsed).
		Count(&live).Error)
	assert.Equal(t, int64(1), live)

	// Only the first charge emails the student a key.
	assert.Len(t, f.dispatcher.Intents(), 1)
}

func TestIngestUnknownEventAcknowledged(t *testing.T) {
	f := setupIngestor(t, 60)

	result, err := f.ingest(t, "payment.chargeback_opened", approvedPayment("pay_1"))
	require.NoError(t, err)
	assert.Equal(t, webhookdomain.OutcomeIgnored, result.Outcome)

	var keys int64
	require.NoError(t, f.conn.Model(&accesskeydomain.AccessKey{}).Count(&keys).Error)
	assert.Equal(t, int64(0), keys)
}

func TestIngestPaymentFailedAcknowledged(t *testing.T) {
	f := setupIngestor(t, 60)

	result, err := f.ingest(t, webhookdomain.EventPaymentFailed, approvedPayment("pay_1"))
	require.NoError(t, err)
	assert.Equal(t, webhookdomain.OutcomeIgnored, result.Outcome)

	var records int64
	require.NoError(t, f.conn.Model(&webhookdomain.EventRecord{}).Count(&records).Error)
	assert.Equal(t, int64(1), records)
}

func TestIngestRefundRevokesKey(t *testing.T) {
	f := setupIngestor(t, 60)

	issued, err := f.ingest(t, webhookdomain.EventPaymentApproved, approvedPayment("pay_1"))
	require.NoError(t, err)

	result, err := f.ingest(t, webhookdomain.EventPaymentRefunded, map[string]any{"id": "pay_1"})
	require.NoError(t, err)
	assert.Equal(t, webhookdomain.OutcomeRevoked, result.Outcome)

	validation, err := f.keySvc.Validate(context.Background(), issued.Key.Token)
	require.NoError(t, err)
	assert.False(t, validation.Valid)
	assert.Equal(t, accesskeydomain.ReasonRevoked, validation.Reason)
}

func TestIngestRefundBeforeApproval(t *testing.T) {
	f := setupIngestor(t, 60)

	result, err := f.ingest(t, webhookdomain.EventPaymentRefunded, map[string]any{"id": "pay_ghost"})
	require.NoError(t, err)
	assert.Equal(t, webhookdomain.OutcomeIgnored, result.Outcome)
}

func TestIngestSubscriptionRenewals(t *testing.T) {
	f := setupIngestor(t, 60)

	data := approvedPayment("pay_1")
	data["payment_method"] = "credit_card"
	data["subscription_id"] = "sub_1"
	issued, err := f.ingest(t, webhookdomain.EventPaymentApproved, data)
	require.NoError(t, err)
	require.True(t, issued.Key.IsRecurring)

	consumed, err := f.keySvc.Consume(context.Background(), issued.Key.Token)
	require.NoError(t, err)
	require.True(t, consumed.Success)

	f.clock.Advance(30 * 24 * time.Hour)

	renewalData := map[string]any{"subscription_id": "sub_1"}
	result, err := f.ingest(t, webhookdomain.EventSubscriptionRenewed, renewalData)
	require.NoError(t, err)
	assert.Equal(t, webhookdomain.OutcomeRenewed, result.Outcome)

	validation, err := f.keySvc.Validate(context.Background(), issued.Key.Token)
	require.NoError(t, err)
	assert.True(t, validation.Valid)

	// The next billing period delivers an identical event; it must not
	// be swallowed by dedupe.
	f.clock.Advance(30 * 24 * time.Hour)
	result, err = f.ingest(t, webhookdomain.EventSubscriptionRenewed, renewalData)
	require.NoError(t, err)
	assert.Equal(t, webhookdomain.OutcomeRenewed, result.Outcome)
}

func TestIngestRenewalUnknownSubscription(t *testing.T) {
	f := setupIngestor(t, 60)

	result, err := f.ingest(t, webhookdomain.EventSubscriptionRenewed, map[string]any{"subscription_id": "sub_ghost"})
	require.NoError(t, err)
	assert.Equal(t, webhookdomain.OutcomeIgnored, result.Outcome)
}
