package lib

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fiffu/pushpanel/config"
	"github.com/fiffu/pushpanel/lib/models"
	"github.com/fiffu/pushpanel/onesignal"
	"github.com/fiffu/pushpanel/senders/email"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

type SyncStatus string

const (
	SyncCompleted           SyncStatus = "completed"
	SyncNothingToSync       SyncStatus = "nothing_to_sync"
	SyncNoActiveSubscribers SyncStatus = "no_active_subscribers"
)

const maxReportedFailures = 10

type SyncSummary struct {
	Status                SyncStatus
	ProviderTotal         int
	ProviderActive        int
	Ignored               int
	LocalCreated          int
	LocalUpdated          int
	Errors                int
	TotalLocalSubscribers int64
	Pages                 int
	Truncated             bool
	DefaultGroupID        string
	Failures              []RecordError
}

type syncSubscribers struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *gorm.DB
	provider PushProvider
	guard    SyncGuard
	alerts   *operatorAlerts
	now      func() time.Time

	flight    singleflight.Group
	pageSize  int
	maxPages  int
	pageDelay time.Duration
}

func newSyncSubscribers(cfg *config.Config, log *zap.Logger, db *gorm.DB, provider PushProvider, guard SyncGuard, alerts *operatorAlerts, now func() time.Time) *syncSubscribers {
	s := &syncSubscribers{
		cfg:       cfg,
		log:       log,
		db:        db,
		provider:  provider,
		guard:     guard,
		alerts:    alerts,
		now:       now,
		pageSize:  cfg.Sync.PageSize,
		maxPages:  cfg.Sync.MaxPages,
		pageDelay: cfg.Sync.PageDelay,
	}
	if s.pageSize <= 0 || s.pageSize > onesignal.MaxPageSize {
		s.pageSize = onesignal.MaxPageSize
	}
	if s.maxPages <= 0 {
		s.maxPages = 10
	}
	return s
}

// SyncSubscribers pulls every active player from OneSignal and upserts it locally.
// Concurrent callers in this process share one run.
func (s *syncSubscribers) SyncSubscribers(ctx context.Context) (*SyncSummary, error) {
	startedAt := s.now().UTC()

	v, err, shared := s.flight.Do("sync", func() (any, error) {
		release, err := s.guard.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
		return s.reconcile(ctx)
	})
	if err != nil {
		s.handleSyncFailure(ctx, err)
		return nil, err
	}

	summary := v.(*SyncSummary)
	s.log.Sugar().Infow(
		fmt.Sprintf("Sync %s", summary.Status),
		"provider_total", summary.ProviderTotal,
		"provider_active", summary.ProviderActive,
		"ignored", summary.Ignored,
		"created", summary.LocalCreated,
		"updated", summary.LocalUpdated,
		"errored", summary.Errors,
		"pages", summary.Pages,
		"truncated", summary.Truncated,
		"shared", shared,
		"elapsed_msecs", int(s.now().UTC().Sub(startedAt).Milliseconds()),
	)
	return summary, nil
}

func (s *syncSubscribers) handleSyncFailure(ctx context.Context, err error) {
	if errors.Is(err, ErrSyncInProgress) {
		s.log.Sugar().Infow("Sync rejected, another run holds the lock")
		return
	}
	syncRunsTotal.WithLabelValues("failed").Inc()

	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		s.log.Sugar().Errorw("Sync aborted", "page", syncErr.Page, "offset", syncErr.Offset, "err", syncErr.Err)
		s.alerts.notify(ctx, &email.SyncFailedEmailFormat{
			Page:     syncErr.Page,
			Offset:   syncErr.Offset,
			Reason:   syncErr.Err.Error(),
			FailedAt: s.now().UTC(),
		})
		return
	}
	s.log.Sugar().Errorw("Sync failed", "err", err)
}

func (s *syncSubscribers) reconcile(ctx context.Context) (*SyncSummary, error) {
	players, pages, truncated, err := s.fetchPlayers(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]onesignal.Player, 0, len(players))
	for _, p := range players {
		if p.IsActive() {
			active = append(active, p)
		}
	}

	summary := &SyncSummary{
		ProviderTotal:  len(players),
		ProviderActive: len(active),
		Ignored:        len(players) - len(active),
		Pages:          pages,
		Truncated:      truncated,
	}

	m := &syncMetrics{}
	switch {
	case len(players) == 0:
		summary.Status = SyncNothingToSync
	case len(active) == 0:
		summary.Status = SyncNoActiveSubscribers
	default:
		group, err := ensureDefaultGroup(ctx, s.db)
		if err != nil {
			return nil, fmt.Errorf("ensure default group: %w", err)
		}
		summary.DefaultGroupID = group.ID

		now := s.now().UTC()
		for i := range active {
			m.Add(s.upsertPlayer(ctx, group, &active[i], now, summary))
		}
		summary.Status = SyncCompleted
	}
	m.publish(summary.Status)

	summary.LocalCreated = m.created
	summary.LocalUpdated = m.updated
	summary.Errors = m.errored

	tx := s.db.WithContext(ctx).Model(&models.Subscriber{}).Count(&summary.TotalLocalSubscribers)
	if err := tx.Error; err != nil {
		s.log.Sugar().Warnw("Failed to count local subscribers", "err", err)
	}
	return summary, nil
}

// fetchPlayers reads pages sequentially until a short page, the reported total, or the page cap.
func (s *syncSubscribers) fetchPlayers(ctx context.Context) (players []onesignal.Player, pages int, truncated bool, err error) {
	offset := 0
	for {
		if pages >= s.maxPages {
			return players, pages, true, nil
		}
		if pages > 0 && s.pageDelay > 0 {
			select {
			case <-time.After(s.pageDelay):
			case <-ctx.Done():
				return nil, pages, false, &SyncError{Page: pages + 1, Offset: offset, Err: ctx.Err()}
			}
		}

		page, err := s.provider.ListPlayers(ctx, offset, s.pageSize)
		if err != nil {
			return nil, pages, false, &SyncError{Page: pages + 1, Offset: offset, Err: err}
		}
		pages++

		players = append(players, page.Players...)
		offset += len(page.Players)

		if len(page.Players) < s.pageSize || (page.TotalCount > 0 && len(players) >= page.TotalCount) {
			return players, pages, false, nil
		}
	}
}

// upsertPlayer reconciles one active player. It never fails the run; errors become outcomes.
func (s *syncSubscribers) upsertPlayer(ctx context.Context, group *models.Group, p *onesignal.Player, now time.Time, summary *SyncSummary) *syncMetrics {
	errored := func(err error) *syncMetrics {
		s.log.Sugar().Warnw("Subscriber failed to sync", "external_id", p.ID, "err", err)
		if len(summary.Failures) < maxReportedFailures {
			summary.Failures = append(summary.Failures, RecordError{ExternalID: p.ID, Reason: err.Error()})
		}
		return &syncMetrics{errored: 1}
	}

	if strings.TrimSpace(p.ID) == "" {
		return errored(errors.New("player has no id"))
	}
	contact := ExtractContact(p)
	db := s.db.WithContext(ctx)

	var existing models.Subscriber
	tx := db.Where("external_id = ?", p.ID).Limit(1).Find(&existing)
	if err := tx.Error; err != nil {
		return errored(err)
	}

	// A contact already held by another subscriber stays with its owner.
	if contact != "" && !existing.HasContact() {
		taken, err := contactTaken(db, contact, existing.ID)
		if err != nil {
			return errored(err)
		}
		if taken {
			s.log.Sugar().Infow("Contact owned by another subscriber, not copied", "external_id", p.ID)
			contact = ""
		}
	}

	if tx.RowsAffected > 0 {
		updates := map[string]any{"updated_at": now}
		if !existing.HasContact() && contact != "" {
			updates["contact"] = contact
		}
		if err := db.Model(&existing).Updates(updates).Error; err != nil {
			return errored(err)
		}
		return &syncMetrics{updated: 1}
	}

	sub := models.Subscriber{
		ExternalID: p.ID,
		Contact:    sql.NullString{String: contact, Valid: contact != ""},
		Groups:     []models.Group{*group},
	}
	if err := db.Omit("Groups.*").Create(&sub).Error; err != nil {
		return errored(err)
	}
	return &syncMetrics{created: 1}
}

type ProviderSyncStatus struct {
	LocalSubscribers    int64
	ProviderSubscribers int
	SyncNeeded          bool
	ProviderError       string
	AppIDConfigured     bool
	APIKeyConfigured    bool
	CheckedAt           time.Time
}

// SyncStatus compares the local subscriber count with OneSignal's reported total.
// Provider failures are reported in the result, not returned.
func (s *syncSubscribers) SyncStatus(ctx context.Context) (*ProviderSyncStatus, error) {
	status := &ProviderSyncStatus{
		AppIDConfigured:  s.cfg.OneSignal.AppID != "",
		APIKeyConfigured: s.cfg.OneSignal.RESTAPIKey != "",
		CheckedAt:        s.now().UTC(),
	}

	tx := s.db.WithContext(ctx).Model(&models.Subscriber{}).Count(&status.LocalSubscribers)
	if err := tx.Error; err != nil {
		return nil, err
	}

	page, err := s.provider.ListPlayers(ctx, 0, 1)
	if err != nil {
		s.log.Sugar().Warnw("Could not read provider total", "err", err)
		status.ProviderError = err.Error()
		return status, nil
	}
	status.ProviderSubscribers = page.TotalCount
	status.SyncNeeded = int64(page.TotalCount) != status.LocalSubscribers
	return status, nil
}
