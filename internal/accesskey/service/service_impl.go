package service

import (
	"context"
	"strings"
	"time"

	accesskeydomain "github.com/LoohanZinho/enemaccess/internal/accesskey/domain"
	"github.com/LoohanZinho/enemaccess/internal/clock"
	"github.com/LoohanZinho/enemaccess/internal/config"
	obsmetrics "github.com/LoohanZinho/enemaccess/internal/observability/metrics"
	"github.com/LoohanZinho/enemaccess/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       accesskeydomain.Repository
	Clock      clock.Clock
	Cfg        config.Config
	Tokens     *accesskeydomain.TokenGenerator
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       accesskeydomain.Repository
	clock      clock.Clock
	tokens     *accesskeydomain.TokenGenerator
	validity   time.Duration
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) accesskeydomain.Service {
	days := p.Cfg.AccessKey.ValidityDays
	if days <= 0 {
		days = 30
	}

	return &Service{
		db:         p.DB,
		log:        p.Log.Named("accesskey.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		clock:      p.Clock,
		tokens:     p.Tokens,
		validity:   time.Duration(days) * 24 * time.Hour,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Issue(ctx context.Context, req accesskeydomain.IssueRequest) (*accesskeydomain.AccessKey, bool, error) {
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	if req.PaymentID == "" {
		return nil, false, accesskeydomain.ErrInvalidPayment
	}
	ownerID := accesskeydomain.OwnerIDFromEmail(req.OwnerEmail)
	if ownerID == "" {
		return nil, false, accesskeydomain.ErrInvalidOwner
	}

	// A subscription holds at most one live (active or used) key. A
	// renewal charged as a fresh payment must converge on that key, not
	// mint a second one.
	if req.SubscriptionID != nil {
		live, err := s.repo.FindActiveOrUsedBySubscriptionID(ctx, s.db, *req.SubscriptionID)
		if err != nil {
			return nil, false, err
		}
		if live != nil {
			s.log.Info("issue reuses live subscription key",
				zap.String("payment_id", req.PaymentID),
				zap.String("subscription_id", *req.SubscriptionID),
				zap.String("token", live.Token),
			)
			return live, false, nil
		}
	}

	now := s.clock.Now()
	token, err := s.tokens.Generate(now)
	if err != nil {
		return nil, false, err
	}

	key := &accesskeydomain.AccessKey{
		ID:             s.genID.Generate(),
		Token:          token,
		OwnerID:        ownerID,
		OwnerEmail:     strings.TrimSpace(req.OwnerEmail),
		OwnerName:      strings.TrimSpace(req.OwnerName),
		PaymentID:      req.PaymentID,
		PaymentMethod:  req.PaymentMethod,
		Status:         accesskeydomain.KeyStatusActive,
		IsRecurring:    req.PaymentMethod.RecurringCapable() && req.SubscriptionID != nil,
		SubscriptionID: req.SubscriptionID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.validity),
		UpdatedAt:      now,
	}

	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		if db.IsDuplicateKeyErr(err) {
			existing, loadErr := s.repo.FindByPaymentID(ctx, s.db, req.PaymentID)
			if loadErr != nil {
				return nil, false, loadErr
			}
			if existing == nil && req.SubscriptionID != nil {
				// The collision may be the subscription's live-key
				// index rather than the payment index.
				existing, loadErr = s.repo.FindActiveOrUsedBySubscriptionID(ctx, s.db, *req.SubscriptionID)
				if loadErr != nil {
					return nil, false, loadErr
				}
			}
			if existing == nil {
				return nil, false, err
			}
			s.log.Info("issue replay for payment",
				zap.String("payment_id", req.PaymentID),
				zap.String("token", existing.Token),
			)
			return existing, false, nil
		}
		return nil, false, err
	}

	s.obsMetrics.RecordKeyIssued(ctx, string(key.PaymentMethod))
	s.log.Info("access key issued",
		zap.String("payment_id", key.PaymentID),
		zap.String("owner_id", key.OwnerID),
		zap.Time("expires_at", key.ExpiresAt),
	)
	return key, true, nil
}

func (s *Service) Validate(ctx context.Context, token string) (accesskeydomain.ValidationResult, error) {
	key, reason, err := s.classify(ctx, strings.TrimSpace(token))
	if err != nil {
		return accesskeydomain.ValidationResult{}, err
	}

	s.obsMetrics.RecordKeyValidation(ctx, validationOutcome(reason))
	if reason != "" {
		return accesskeydomain.ValidationResult{Valid: false, Reason: reason}, nil
	}
	return accesskeydomain.ValidationResult{Valid: true, Key: key}, nil
}

func (s *Service) Consume(ctx context.Context, token string) (accesskeydomain.ConsumeResult, error) {
	token = strings.TrimSpace(token)
	now := s.clock.Now()

	ok, err := s.repo.MarkUsed(ctx, s.db, token, now)
	if err != nil {
		return accesskeydomain.ConsumeResult{}, err
	}
	if ok {
		key, err := s.repo.FindByToken(ctx, s.db, token)
		if err != nil {
			return accesskeydomain.ConsumeResult{}, err
		}
		s.obsMetrics.RecordKeyConsume(ctx, "success")
		s.log.Info("access key consumed", zap.String("token", token))
		return accesskeydomain.ConsumeResult{Success: true, Key: key}, nil
	}

	_, reason, err := s.classify(ctx, token)
	if err != nil {
		return accesskeydomain.ConsumeResult{}, err
	}
	if reason == "" {
		// The CAS lost a race that has since resolved; the key can only
		// have left active through use, expiry or revocation.
		reason = accesskeydomain.ReasonAlreadyUsed
	}

	s.obsMetrics.RecordKeyConsume(ctx, string(reason))
	return accesskeydomain.ConsumeResult{Success: false, Reason: reason}, nil
}

func (s *Service) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	ok, err := s.repo.MarkRevoked(ctx, s.db, token, s.clock.Now())
	if err != nil {
		return err
	}
	if ok {
		s.log.Info("access key revoked", zap.String("token", token))
		return nil
	}

	key, err := s.repo.FindByToken(ctx, s.db, token)
	if err != nil {
		return err
	}
	if key == nil {
		return accesskeydomain.ErrNotFound
	}
	// Used, expired or already revoked. Used keys stay used: the value
	// was delivered and used_at records when. Converge silently.
	return nil
}

func (s *Service) RevokeByPaymentID(ctx context.Context, paymentID string) (bool, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return false, accesskeydomain.ErrInvalidPayment
	}

	ok, err := s.repo.RevokeByPaymentID(ctx, s.db, paymentID, s.clock.Now())
	if err != nil {
		return false, err
	}
	if ok {
		s.log.Info("access key revoked for payment", zap.String("payment_id", paymentID))
		return true, nil
	}

	key, err := s.repo.FindByPaymentID(ctx, s.db, paymentID)
	if err != nil {
		return false, err
	}
	return key != nil, nil
}

// classify reports why a token is invalid, or empty reason when valid.
// Check order matters: a used or revoked key must never be reported as
// merely expired. Expiry is persisted lazily on read.
func (s *Service) classify(ctx context.Context, token string) (*accesskeydomain.AccessKey, accesskeydomain.InvalidReason, error) {
	for {
		key, err := s.repo.FindByToken(ctx, s.db, token)
		if err != nil {
			return nil, "", err
		}
		if key == nil {
			return nil, accesskeydomain.ReasonNotFound, nil
		}

		switch key.Status {
		case accesskeydomain.KeyStatusUsed:
			return key, accesskeydomain.ReasonAlreadyUsed, nil
		case accesskeydomain.KeyStatusRevoked:
			return key, accesskeydomain.ReasonRevoked, nil
		case accesskeydomain.KeyStatusExpired:
			return key, accesskeydomain.ReasonExpired, nil
		}

		now := s.clock.Now()
		if !now.After(key.ExpiresAt) {
			return key, "", nil
		}

		ok, err := s.repo.MarkExpired(ctx, s.db, token, now)
		if err != nil {
			return nil, "", err
		}
		if ok {
			return key, accesskeydomain.ReasonExpired, nil
		}
		// Lost the expiry CAS to a concurrent consume or revoke;
		// re-read and classify from the winner's state.
	}
}

func validationOutcome(reason accesskeydomain.InvalidReason) string {
	if reason == "" {
		return "valid"
	}
	return string(reason)
}
