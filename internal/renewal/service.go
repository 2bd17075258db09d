// Package renewal extends the access key tied to a billing subscription
// when the provider reports a renewed period.
package renewal

import (
	"context"
	"strings"
	"time"

	accesskeydomain "github.com/LoohanZinho/enemaccess/internal/accesskey/domain"
	"github.com/LoohanZinho/enemaccess/internal/clock"
	"github.com/LoohanZinho/enemaccess/internal/config"
	notificationdomain "github.com/LoohanZinho/enemaccess/internal/notification/domain"
	obsmetrics "github.com/LoohanZinho/enemaccess/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       accesskeydomain.Repository
	Clock      clock.Clock
	Cfg        config.Config
	Dispatcher notificationdomain.Dispatcher
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Coordinator struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       accesskeydomain.Repository
	clock      clock.Clock
	validity   time.Duration
	dispatcher notificationdomain.Dispatcher
	obsMetrics *obsmetrics.Metrics
}

func NewCoordinator(p Params) *Coordinator {
	days := p.Cfg.AccessKey.ValidityDays
	if days <= 0 {
		days = 30
	}

	return &Coordinator{
		db:         p.DB,
		log:        p.Log.Named("renewal.coordinator"),
		repo:       p.Repo,
		clock:      p.Clock,
		validity:   time.Duration(days) * 24 * time.Hour,
		dispatcher: p.Dispatcher,
		obsMetrics: p.ObsMetrics,
	}
}

// Renew locates the key for a subscription and starts a fresh validity
// window: status back to active, prior use cleared. Returns false when
// no key is tied to the subscription.
func (c *Coordinator) Renew(ctx context.Context, subscriptionID string) (bool, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return false, nil
	}

	now := c.clock.Now()
	ok, err := c.repo.Renew(ctx, c.db, subscriptionID, now.Add(c.validity), now)
	if err != nil {
		return false, err
	}
	if !ok {
		c.log.Warn("renewal for unknown subscription", zap.String("subscription_id", subscriptionID))
		return false, nil
	}

	c.obsMetrics.RecordKeyRenewal(ctx)

	key, err := c.repo.FindBySubscriptionID(ctx, c.db, subscriptionID)
	if err != nil {
		// The renewal itself is durable; notification enrichment is not
		// worth failing the webhook over.
		c.log.Warn("renewed key lookup failed", zap.String("subscription_id", subscriptionID), zap.Error(err))
		return true, nil
	}
	if key != nil {
		c.log.Info("access key renewed",
			zap.String("subscription_id", subscriptionID),
			zap.Time("expires_at", key.ExpiresAt),
		)
		c.dispatcher.Enqueue(notificationdomain.Intent{
			Kind:       notificationdomain.IntentKindKeyRenewed,
			OwnerEmail: key.OwnerEmail,
			OwnerName:  key.OwnerName,
			Token:      key.Token,
			ExpiresAt:  key.ExpiresAt,
		})
	}
	return true, nil
}
