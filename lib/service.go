package lib

import (
	"context"
	"net/http"
	"time"

	"github.com/fiffu/pushpanel/config"
	"github.com/fiffu/pushpanel/lib/models"
	"github.com/fiffu/pushpanel/onesignal"
	"github.com/fiffu/pushpanel/senders"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PushProvider is the subset of the OneSignal client the workflows use.
type PushProvider interface {
	Configured() error
	ListPlayers(ctx context.Context, offset, limit int) (*onesignal.PlayerPage, error)
	Send(ctx context.Context, n onesignal.Notification) (*onesignal.SendResult, error)
	CancelNotification(ctx context.Context, id string) error
}

// Actor is the authenticated operator behind a request.
type Actor struct {
	Username string
	Role     string
}

type Service struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	senders senders.Registry

	*syncSubscribers
	*dispatchNotification
	*registerSubscriber
	*manageGroups
	*reporting
}

func NewService(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, db *gorm.DB, client *onesignal.Client, guard SyncGuard, senders senders.Registry, transport http.RoundTripper) *Service {
	svc := newService(cfg, log, db, client, guard, senders, transport, time.Now)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			group, err := ensureDefaultGroup(ctx, db)
			if err != nil {
				return err
			}
			log.Sugar().Infow("Default group ready", "group_id", group.ID, "name", group.Name)
			return nil
		},
	})
	return svc
}

func newService(
	cfg *config.Config,
	log *zap.Logger,
	db *gorm.DB,
	provider PushProvider,
	guard SyncGuard,
	senders senders.Registry,
	transport http.RoundTripper,
	now func() time.Time,
) *Service {
	alerts := &operatorAlerts{cfg, log, senders}
	return &Service{
		cfg, log, db, senders,
		newSyncSubscribers(cfg, log, db, provider, guard, alerts, now),
		&dispatchNotification{cfg, log, db, provider, alerts, transport, now},
		&registerSubscriber{log, db},
		&manageGroups{log, db},
		&reporting{log, db, now},
	}
}

// ensureDefaultGroup returns the default group, creating it on first use.
func ensureDefaultGroup(ctx context.Context, db *gorm.DB) (*models.Group, error) {
	var group models.Group
	tx := db.WithContext(ctx).
		Where("name = ?", models.DefaultGroupName).
		Attrs(models.Group{Name: models.DefaultGroupName, Description: models.DefaultGroupDescription}).
		FirstOrCreate(&group)
	if err := tx.Error; err != nil {
		// Lost a creation race against a concurrent caller.
		retry := db.WithContext(ctx).Where("name = ?", models.DefaultGroupName).First(&group)
		if retry.Error != nil {
			return nil, err
		}
	}
	return &group, nil
}
