package notification

import (
	"context"
	"fmt"

	notificationdomain "github.com/LoohanZinho/enemaccess/internal/notification/domain"
	obsmetrics "github.com/LoohanZinho/enemaccess/internal/observability/metrics"
	"github.com/LoohanZinho/enemaccess/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultQueueSize = 256

type Params struct {
	fx.In

	Log        *zap.Logger
	Email      email.Provider
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Dispatcher consumes queued notification intents on a background
// worker and delivers them by email. Send failures are logged and
// counted, never propagated.
type Dispatcher struct {
	log        *zap.Logger
	email      email.Provider
	obsMetrics *obsmetrics.Metrics

	queue chan notificationdomain.Intent
	done  chan struct{}
}

func NewDispatcher(p Params) *Dispatcher {
	return &Dispatcher{
		log:        p.Log.Named("notification.dispatcher"),
		email:      p.Email,
		obsMetrics: p.ObsMetrics,
		queue:      make(chan notificationdomain.Intent, defaultQueueSize),
		done:       make(chan struct{}),
	}
}

func (d *Dispatcher) Enqueue(intent notificationdomain.Intent) {
	select {
	case d.queue <- intent:
	default:
		d.log.Warn("notification queue full, dropping intent",
			zap.String("kind", string(intent.Kind)),
			zap.String("owner_email", intent.OwnerEmail),
		)
		d.obsMetrics.RecordNotification(context.Background(), string(intent.Kind), "dropped")
	}
}

// Start launches the delivery worker. Stop drains nothing: undelivered
// intents are dropped, delivery is best-effort.
func (d *Dispatcher) Start() {
	go d.run()
}

func (d *Dispatcher) Stop() {
	close(d.done)
}

func (d *Dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case intent := <-d.queue:
			d.deliver(intent)
		}
	}
}

func (d *Dispatcher) deliver(intent notificationdomain.Intent) {
	ctx := context.Background()
	subject, body := renderIntent(intent)

	if err := d.email.Send(ctx, []string{intent.OwnerEmail}, subject, body); err != nil {
		d.log.Warn("notification delivery failed",
			zap.String("kind", string(intent.Kind)),
			zap.String("owner_email", intent.OwnerEmail),
			zap.Error(err),
		)
		d.obsMetrics.RecordNotification(ctx, string(intent.Kind), "failed")
		return
	}

	d.log.Info("notification delivered",
		zap.String("kind", string(intent.Kind)),
		zap.String("owner_email", intent.OwnerEmail),
	)
	d.obsMetrics.RecordNotification(ctx, string(intent.Kind), "sent")
}

func renderIntent(intent notificationdomain.Intent) (string, string) {
	expires := intent.ExpiresAt.Format("02/01/2006")

	switch intent.Kind {
	case notificationdomain.IntentKindKeyRenewed:
		subject := "Sua assinatura foi renovada"
		body := fmt.Sprintf(
			"<p>Olá %s,</p><p>Sua assinatura foi renovada. Sua chave de acesso <strong>%s</strong> é válida até %s.</p>",
			intent.OwnerName, intent.Token, expires,
		)
		return subject, body
	default:
		subject := "Sua chave de acesso chegou"
		body := fmt.Sprintf(
			"<p>Olá %s,</p><p>Pagamento confirmado! Sua chave de acesso é <strong>%s</strong>, válida até %s.</p>",
			intent.OwnerName, intent.Token, expires,
		)
		return subject, body
	}
}

func registerHooks(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = ctx
			d.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = ctx
			d.Stop()
			return nil
		},
	})
}
