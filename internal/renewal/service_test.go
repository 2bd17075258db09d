package renewal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accesskeydomain "github.com/LoohanZinho/enemaccess/internal/accesskey/domain"
	"github.com/LoohanZinho/enemaccess/internal/accesskey/repository"
	"github.com/LoohanZinho/enemaccess/internal/clock"
	"github.com/LoohanZinho/enemaccess/internal/config"
	notificationdomain "github.com/LoohanZinho/enemaccess/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

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

func setupCoordinator(t *testing.T) (*Coordinator, *gorm.DB, *clock.FakeClock, *dispatcherStub) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:renewal_"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&accesskeydomain.AccessKey{}))

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	dispatcher := &dispatcherStub{}

	coordinator := NewCoordinator(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		Repo:       repository.Provide(),
		Clock:      fake,
		Cfg:        config.Config{AccessKey: config.AccessKeyConfig{ValidityDays: 30}},
		Dispatcher: dispatcher,
	})
	return coordinator, conn, fake, dispatcher
}

func seedKey(t *testing.T, conn *gorm.DB, status accesskeydomain.KeyStatus, subscriptionID string, expiresAt time.Time, usedAt *time.Time) accesskeydomain.AccessKey {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	key := accesskeydomain.AccessKey{
		ID:             node.Generate(),
		Token:          "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		OwnerID:        "aluno@example.com",
		OwnerEmail:     "aluno@example.com",
		OwnerName:      "Aluno Teste",
		PaymentID:      "pay_1",
		PaymentMethod:  accesskeydomain.PaymentMethodCreditCard,
		Status:         status,
		IsRecurring:    true,
		SubscriptionID: &subscriptionID,
		CreatedAt:      expiresAt.Add(-30 * 24 * time.Hour),
		ExpiresAt:      expiresAt,
		UsedAt:         usedAt,
		UpdatedAt:      expiresAt.Add(-30 * 24 * time.Hour),
	}
	require.NoError(t, conn.Create(&key).Error)
	return key
}

func TestRenewResurrectsUsedKey(t *testing.T) {
	coordinator, conn, fake, dispatcher := setupCoordinator(t)

	usedAt := fake.Now().Add(-10 * 24 * time.Hour)
	key := seedKey(t, conn, accesskeydomain.KeyStatusUsed, "sub_1", fake.Now().Add(-time.Hour), &usedAt)

	renewed, err := coordinator.Renew(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.True(t, renewed)

	var stored accesskeydomain.AccessKey
	require.NoError(t, conn.Where("token = ?", key.Token).First(&stored).Error)
	assert.Equal(t, accesskeydomain.KeyStatusActive, stored.Status)
	assert.Nil(t, stored.UsedAt)
	assert.WithinDuration(t, fake.Now().Add(30*24*time.Hour), stored.ExpiresAt, time.Second)

	intents := dispatcher.Intents()
	require.Len(t, intents, 1)
	assert.Equal(t, notificationdomain.IntentKindKeyRenewed, intents[0].Kind)
	assert.Equal(t, key.Token, intents[0].Token)
}

func TestRenewResurrectsRevokedKey(t *testing.T) {
	coordinator, conn, fake, _ := setupCoordinator(t)

	key := seedKey(t, conn, accesskeydomain.KeyStatusRevoked, "sub_1", fake.Now().Add(-time.Hour), nil)

	renewed, err := coordinator.Renew(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.True(t, renewed)

	var stored accesskeydomain.AccessKey
	require.NoError(t, conn.Where("token = ?", key.Token).First(&stored).Error)
	assert.Equal(t, accesskeydomain.KeyStatusActive, stored.Status)
}

func TestRenewTouchesOnlyNewestKey(t *testing.T) {
	coordinator, conn, fake, _ := setupCoordinator(t)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	subscriptionID := "sub_1"

	// A refunded first charge leaves a revoked key behind; the retry
	// payment mints the subscription's current key.
	oldExpiry := fake.Now().Add(-40 * 24 * time.Hour)
	old := accesskeydomain.AccessKey{
		ID:             node.Generate(),
		Token:          "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		OwnerID:        "aluno@example.com",
		OwnerEmail:     "aluno@example.com",
		PaymentID:      "pay_1",
		PaymentMethod:  accesskeydomain.PaymentMethodPix,
		Status:         accesskeydomain.KeyStatusRevoked,
		SubscriptionID: &subscriptionID,
		CreatedAt:      oldExpiry.Add(-30 * 24 * time.Hour),
		ExpiresAt:      oldExpiry,
		UpdatedAt:      oldExpiry,
	}
	require.NoError(t, conn.Create(&old).Error)

	current := accesskeydomain.AccessKey{
		ID:             node.Generate(),
		Token:          "01BX5ZZKBKACTAV9WEVGEMMVRZ",
		OwnerID:        "aluno@example.com",
		OwnerEmail:     "aluno@example.com",
		PaymentID:      "pay_2",
		PaymentMethod:  accesskeydomain.PaymentMethodCreditCard,
		Status:         accesskeydomain.KeyStatusActive,
		IsRecurring:    true,
		SubscriptionID: &subscriptionID,
		CreatedAt:      fake.Now().Add(-time.Hour),
		ExpiresAt:      fake.Now().Add(29 * 24 * time.Hour),
		UpdatedAt:      fake.Now().Add(-time.Hour),
	}
	require.NoError(t, conn.Create(&current).Error)

	renewed, err := coordinator.Renew(context.Background(), subscriptionID)
	require.NoError(t, err)
	assert.True(t, renewed)

	var storedOld accesskeydomain.AccessKey
	require.NoError(t, conn.Where("token = ?", old.Token).First(&storedOld).Error)
	assert.Equal(t, accesskeydomain.KeyStatusRevoked, storedOld.Status)
	assert.WithinDuration(t, oldExpiry, storedOld.ExpiresAt, time.Second)

	var storedCurrent accesskeydomain.AccessKey
	require.NoError(t, conn.Where("token = ?", current.Token).First(&storedCurrent).Error)
	assert.Equal(t, accesskeydomain.KeyStatusActive, storedCurrent.Status)
	assert.WithinDuration(t, fake.Now().Add(30*24*time.Hour), storedCurrent.ExpiresAt, time.Second)
}

func TestRenewUnknownSubscription(t *testing.T) {
	coordinator, _, _, dispatcher := setupCoordinator(t)

	renewed, err := coordinator.Renew(context.Background(), "sub_missing")
	require.NoError(t, err)
	assert.False(t, renewed)
	assert.Empty(t, dispatcher.Intents())
}

func TestRenewBlankSubscription(t *testing.T) {
	coordinator, _, _, _ := setupCoordinator(t)

	renewed, err := coordinator.Renew(context.Background(), "   ")
	require.NoError(t, err)
	assert.False(t, renewed)
}
