package service

import (
	"context"
	"encoding/json"
	"strings"

	accesskeydomain "github.com/LoohanZinho/enemaccess/internal/accesskey/domain"
	"github.com/LoohanZinho/enemaccess/internal/clock"
	"github.com/LoohanZinho/enemaccess/internal/config"
	notificationdomain "github.com/LoohanZinho/enemaccess/internal/notification/domain"
	obsmetrics "github.com/LoohanZinho/enemaccess/internal/observability/metrics"
	"github.com/LoohanZinho/enemaccess/internal/ratelimit"
	"github.com/LoohanZinho/enemaccess/internal/renewal"
	webhookdomain "github.com/LoohanZinho/enemaccess/internal/webhook/domain"
	"github.com/LoohanZinho/enemaccess/internal/webhook/signature"
	"github.com/LoohanZinho/enemaccess/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Clock      clock.Clock
	KeySvc     accesskeydomain.Service
	Renewals   *renewal.Coordinator
	Limiter    ratelimit.Limiter
	Dispatcher notificationdomain.Dispatcher
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	verifier   *signature.Verifier
	keySvc     accesskeydomain.Service
	renewals   *renewal.Coordinator
	limiter    ratelimit.Limiter
	dispatcher notificationdomain.Dispatcher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) webhookdomain.Service {
	log := p.Log.Named("webhook.service")
	if p.Cfg.Webhook.Secret == "" {
		log.Warn("webhook secret is not configured, all deliveries will be rejected")
	}

	return &Service{
		db:         p.DB,
		log:        log,
		genID:      p.GenID,
		clock:      p.Clock,
		verifier:   signature.NewVerifier(p.Cfg.Webhook.Secret),
		keySvc:     p.KeySvc,
		renewals:   p.Renewals,
		limiter:    p.Limiter,
		dispatcher: p.Dispatcher,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Ingest(ctx context.Context, payload []byte, signatureHeader, callerID string) (webhookdomain.IngestResult, error) {
	if err := s.verifier.Verify(payload, signatureHeader); err != nil {
		return webhookdomain.IngestResult{}, webhookdomain.ErrInvalidSignature
	}

	allowed, err := s.limiter.Allow(ctx, callerID)
	if err != nil {
		return webhookdomain.IngestResult{}, err
	}
	if !allowed {
		s.obsMetrics.RecordRateLimitDenied(ctx, "/webhooks/billing")
		return webhookdomain.IngestResult{}, webhookdomain.ErrRateLimited
	}

	if !json.Valid(payload) {
		return webhookdomain.IngestResult{}, webhookdomain.ErrInvalidPayload
	}
	var envelope webhookdomain.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return webhookdomain.IngestResult{}, webhookdomain.ErrInvalidPayload
	}

	eventType := strings.TrimSpace(envelope.Event)
	if eventType == "" {
		return webhookdomain.IngestResult{}, webhookdomain.ErrInvalidPayload
	}

	result, err := s.process(ctx, eventType, envelope.Data, payload)
	if err != nil {
		return webhookdomain.IngestResult{}, err
	}

	s.obsMetrics.RecordWebhookEvent(ctx, eventType, string(result.Outcome))
	return result, nil
}

func (s *Service) process(ctx context.Context, eventType string, data webhookdomain.EventData, payload []byte) (webhookdomain.IngestResult, error) {
	switch eventType {
	case webhookdomain.EventPaymentApproved, webhookdomain.EventPaymentCompleted:
		return s.processPaymentApproved(ctx, eventType, data, payload)
	case webhookdomain.EventPaymentRefunded, webhookdomain.EventPaymentCancelled:
		return s.processPaymentReversed(ctx, eventType, data, payload)
	case webhookdomain.EventSubscriptionRenewed:
		return s.processSubscriptionRenewed(ctx, eventType, data, payload)
	case webhookdomain.EventPaymentFailed, webhookdomain.EventSubscriptionCreated:
		// Acknowledged no-ops: a failed payment grants nothing and a
		// subscription without a payment is keyed on its first charge.
		if err := s.recordProcessed(ctx, eventType, nil, payload); err != nil {
			return webhookdomain.IngestResult{}, err
		}
		return webhookdomain.IngestResult{Outcome: webhookdomain.OutcomeIgnored}, nil
	default:
		// Unrecognized events are acknowledged so the provider stops
		// redelivering them.
		s.log.Info("ignoring unrecognized webhook event", zap.String("event", eventType))
		return webhookdomain.IngestResult{Outcome: webhookdomain.OutcomeIgnored}, nil
	}
}

func (s *Service) processPaymentApproved(ctx context.Context, eventType string, data webhookdomain.EventData, payload []byte) (webhookdomain.IngestResult, error) {
	paymentID := strings.TrimSpace(data.ID)
	if paymentID == "" || strings.TrimSpace(data.Customer.Email) == "" {
		return webhookdomain.IngestResult{}, webhookdomain.ErrInvalidPayload
	}
	method, ok := accesskeydomain.ParsePaymentMethod(data.PaymentMethod)
	if !ok {
		return webhookdomain.IngestResult{}, webhookdomain.ErrInvalidPayload
	}

	// Replays land on the existing event record; issuance below is
	// idempotent by payment id, so reprocessing converges to the same key.
	record, _, err := s.insertEvent(ctx, eventType, &paymentID, payload)
	if err != nil {
		return webhookdomain.IngestResult{}, err
	}

	var subscriptionID *string
	if trimmed := strings.TrimSpace(data.SubscriptionID); trimmed != "" {
		subscriptionID = &trimmed
	}

	key, issued, err := s.keySvc.Issue(ctx, accesskeydomain.IssueRequest{
		PaymentID:      paymentID,
		OwnerEmail:     data.Customer.Email,
		OwnerName:      data.Customer.Name,
		PaymentMethod:  method,
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		return webhookdomain.IngestResult{}, err
	}

	if err := s.markProcessed(ctx, record.ID); err != nil {
		return webhookdomain.IngestResult{}, err
	}

	if !issued {
		// Replayed delivery: same key, no second notification.
		return webhookdomain.IngestResult{Outcome: webhookdomain.OutcomeDuplicate, Key: key}, nil
	}

	s.dispatcher.Enqueue(notificationdomain.Intent{
		Kind:       notificationdomain.IntentKindKeyIssued,
		OwnerEmail: key.OwnerEmail,
		OwnerName:  key.OwnerName,
		Token:      key.Token,
		ExpiresAt:  key.ExpiresAt,
	})
	return webhookdomain.IngestResult{Outcome: webhookdomain.OutcomeIssued, Key: key}, nil
}

func (s *Service) processPaymentReversed(ctx context.Context, eventType string, data webhookdomain.EventData, payload []byte) (webhookdomain.IngestResult, error) {
	paymentID := strings.TrimSpace(data.ID)
	if paymentID == "" {
		return webhookdomain.IngestResult{}, webhookdomain.ErrInvalidPayload
	}

	record, _, err := s.insertEvent(ctx, eventType, &paymentID, payload)
	if err != nil {
		return webhookdomain.IngestResult{}, err
	}

	revoked, err := s.keySvc.RevokeByPaymentID(ctx, paymentID)
	if err != nil {
		return webhookdomain.IngestResult{}, err
	}

	if err := s.markProcessed(ctx, record.ID); err != nil {
		return webhookdomain.IngestResult{}, err
	}

	if !revoked {
		// Reversal for a payment that never produced a key, e.g. the
		// refund raced ahead of the approval. Acknowledge as a no-op.
		s.log.Warn("reversal for unknown payment", zap.String("payment_id", paymentID), zap.String("event", eventType))
		return webhookdomain.IngestResult{Outcome: webhookdomain.OutcomeIgnored}, nil
	}
	return webhookdomain.IngestResult{Outcome: webhookdomain.OutcomeRevoked}, nil
}

func (s *Service) processSubscriptionRenewed(ctx context.Context, eventType string, data webhookdomain.EventData, payload []byte) (webhookdomain.IngestResult, error) {
	subscriptionID := strings.TrimSpace(data.SubscriptionID)
	if subscriptionID == "" {
		return webhookdomain.IngestResult{}, webhookdomain.ErrInvalidPayload
	}

	record, _, err := s.insertEvent(ctx, eventType, nil, payload)
	if err != nil {
		return webhookdomain.IngestResult{}, err
	}

	renewed, err := s.renewals.Renew(ctx, subscriptionID)
	if err != nil {
		return webhookdomain.IngestResult{}, err
	}

	if err := s.markProcessed(ctx, record.ID); err != nil {
		return webhookdomain.IngestResult{}, err
	}

	if !renewed {
		return webhookdomain.IngestResult{Outcome: webhookdomain.OutcomeIgnored}, nil
	}
	return webhookdomain.IngestResult{Outcome: webhookdomain.OutcomeRenewed}, nil
}

// insertEvent persists the delivery for audit. For payment events the
// (event_type, dedupe_key) unique index absorbs redeliveries; the
// existing record is returned with replay=true.
func (s *Service) insertEvent(ctx context.Context, eventType string, dedupeKey *string, payload []byte) (*webhookdomain.EventRecord, bool, error) {
	record := &webhookdomain.EventRecord{
		ID:         s.genID.Generate(),
		EventType:  eventType,
		DedupeKey:  dedupeKey,
		Payload:    datatypes.JSON(payload),
		ReceivedAt: s.clock.Now(),
	}

	err := s.db.WithContext(ctx).Create(record).Error
	if err == nil {
		return record, false, nil
	}
	if !db.IsDuplicateKeyErr(err) || dedupeKey == nil {
		return nil, false, err
	}

	var existing webhookdomain.EventRecord
	loadErr := s.db.WithContext(ctx).
		Where("event_type = ? AND dedupe_key = ?", eventType, *dedupeKey).
		First(&existing).Error
	if loadErr != nil {
		return nil, false, loadErr
	}
	return &existing, true, nil
}

func (s *Service) markProcessed(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET processed_at = ? WHERE id = ?`,
		s.clock.Now(),
		id,
	).Error
}

func (s *Service) recordProcessed(ctx context.Context, eventType string, dedupeKey *string, payload []byte) error {
	record, _, err := s.insertEvent(ctx, eventType, dedupeKey, payload)
	if err != nil {
		return err
	}
	return s.markProcessed(ctx, record.ID)
}
