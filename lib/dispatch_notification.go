package lib

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fiffu/pushpanel/config"
	"github.com/fiffu/pushpanel/lib/models"
	"github.com/fiffu/pushpanel/onesignal"
	"github.com/fiffu/pushpanel/senders/email"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DispatchRequest struct {
	Title      string
	Message    string
	GroupIDs   []string
	URL        string
	ImageURL   string
	ScheduleAt *time.Time
	Actor      Actor
}

type DispatchResult struct {
	Log                *models.NotificationLog
	ProviderDispatchID string
	Recipients         int
}

type dispatchNotification struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *gorm.DB
	provider  PushProvider
	alerts    *operatorAlerts
	transport http.RoundTripper
	now       func() time.Time
}

// DispatchNotification sends (or schedules) a push to every subscriber in the requested
// groups and records it. No log row is written unless the provider accepted the push.
func (d *dispatchNotification) DispatchNotification(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	req, err := d.validateDispatch(req)
	if err != nil {
		return nil, d.rejected(err)
	}
	if err := d.provider.Configured(); err != nil {
		dispatchesTotal.WithLabelValues("misconfigured").Inc()
		d.log.Sugar().Errorw("Notification not sent, provider is not configured", "err", err)
		return nil, err
	}

	groups, err := d.loadGroups(ctx, req.GroupIDs)
	if err != nil {
		return nil, d.rejected(err)
	}

	playerIDs, err := d.resolveRecipients(ctx, req.GroupIDs)
	if err != nil {
		return nil, err
	}
	if len(playerIDs) == 0 {
		return nil, d.rejected(&NoRecipientsError{GroupIDs: req.GroupIDs})
	}

	if req.URL != "" && req.ImageURL == "" && d.cfg.Dispatch.LinkPreview {
		image, err := FetchPreviewImage(ctx, d.transport, req.URL)
		if err != nil {
			d.log.Sugar().Infow("Link preview unavailable", "url", req.URL, "err", err)
		}
		req.ImageURL = image
	}

	res, err := d.provider.Send(ctx, onesignal.Notification{
		Title:      req.Title,
		Message:    req.Message,
		PlayerIDs:  playerIDs,
		URL:        req.URL,
		ImageURL:   req.ImageURL,
		ScheduleAt: req.ScheduleAt,
	})
	if err != nil {
		dispatchesTotal.WithLabelValues("provider_error").Inc()
		d.log.Sugar().Warnw("Provider rejected notification", "recipients", len(playerIDs), "err", err)
		return nil, err
	}

	entry, err := d.recordDispatch(ctx, req, groups, res, len(playerIDs))
	if err != nil {
		dispatchesTotal.WithLabelValues("unlogged").Inc()
		inconsistency := &InconsistencyError{ProviderID: res.ID, Err: err}
		d.log.Sugar().Errorw("Notification sent but not logged",
			"provider_id", res.ID,
			"recipients", len(playerIDs),
			"actor", req.Actor.Username,
			"err", err,
		)
		d.alerts.notify(ctx, &email.DispatchUnloggedEmailFormat{
			ProviderID: res.ID,
			Title:      req.Title,
			Recipients: len(playerIDs),
			Actor:      req.Actor.Username,
			Reason:     err.Error(),
			SentAt:     d.now().UTC(),
		})
		return nil, inconsistency
	}

	dispatchesTotal.WithLabelValues(strings.ToLower(string(entry.Status))).Inc()
	d.log.Sugar().Infow("Notification dispatched",
		"log_id", entry.ID,
		"provider_id", res.ID,
		"status", entry.Status,
		"recipients", len(playerIDs),
		"actor", req.Actor.Username,
	)
	return &DispatchResult{
		Log:                entry,
		ProviderDispatchID: res.ID,
		Recipients:         len(playerIDs),
	}, nil
}

func (d *dispatchNotification) rejected(err error) error {
	dispatchesTotal.WithLabelValues("rejected").Inc()
	d.log.Sugar().Infow("Notification rejected", "reason", err.Error())
	return err
}

func (d *dispatchNotification) validateDispatch(req DispatchRequest) (DispatchRequest, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Message = strings.TrimSpace(req.Message)
	req.URL = strings.TrimSpace(req.URL)
	req.ImageURL = strings.TrimSpace(req.ImageURL)

	if req.Title == "" || req.Message == "" {
		return req, validationErrorf("title and message are required")
	}
	if req.Actor.Username == "" {
		return req, validationErrorf("an authenticated actor is required")
	}

	seen := make(map[string]bool, len(req.GroupIDs))
	ids := make([]string, 0, len(req.GroupIDs))
	for _, id := range req.GroupIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return req, validationErrorf("at least one group must be selected")
	}
	req.GroupIDs = ids

	if req.ScheduleAt != nil && !req.ScheduleAt.After(d.now()) {
		return req, validationErrorf("scheduled time must be in the future")
	}
	if req.URL != "" && !isWebURL(req.URL) {
		return req, validationErrorf("url must be an absolute http(s) URL")
	}
	if req.ImageURL != "" && !isWebURL(req.ImageURL) {
		return req, validationErrorf("imageUrl must be an absolute http(s) URL")
	}
	return req, nil
}

func isWebURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (d *dispatchNotification) loadGroups(ctx context.Context, ids []string) ([]models.Group, error) {
	var groups []models.Group
	tx := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&groups)
	if err := tx.Error; err != nil {
		return nil, err
	}
	if len(groups) == len(ids) {
		return groups, nil
	}

	found := make(map[string]bool, len(groups))
	for _, g := range groups {
		found[g.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return nil, validationErrorf("unknown group id(s): %s", strings.Join(missing, ", "))
}

// resolveRecipients returns the distinct provider ids of every member of the groups.
func (d *dispatchNotification) resolveRecipients(ctx context.Context, groupIDs []string) ([]string, error) {
	var ids []string
	tx := d.db.WithContext(ctx).
		Model(&models.Subscriber{}).
		Distinct("subscribers.external_id").
		Joins("JOIN subscriber_groups ON subscriber_groups.subscriber_id = subscribers.id").
		Where("subscriber_groups.group_id IN ?", groupIDs).
		Where("subscribers.external_id <> ''").
		Order("subscribers.external_id").
		Pluck("subscribers.external_id", &ids)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// recordDispatch writes the log row and the actor's user row in one transaction.
func (d *dispatchNotification) recordDispatch(ctx context.Context, req DispatchRequest, groups []models.Group, res *onesignal.SendResult, recipients int) (*models.NotificationLog, error) {
	// The push is already out; a client disconnect must not stop the record.
	ctx = context.WithoutCancel(ctx)

	entry := &models.NotificationLog{
		Title:                  req.Title,
		Message:                req.Message,
		URL:                    req.URL,
		ImageURL:               req.ImageURL,
		ProviderNotificationID: res.ID,
		Recipients:             recipients,
		Groups:                 groups,
	}
	if req.ScheduleAt != nil {
		entry.Status = models.StatusScheduled
		entry.ScheduledAt = sql.NullTime{Time: req.ScheduleAt.UTC(), Valid: true}
	} else {
		entry.Status = models.StatusSent
		entry.SentAt = sql.NullTime{Time: d.now().UTC(), Valid: true}
	}

	var user models.User
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Where("username = ?", req.Actor.Username).
			Attrs(models.User{Username: req.Actor.Username, Role: req.Actor.Role}).
			FirstOrCreate(&user)
		if err := result.Error; err != nil {
			return err
		}
		if req.Actor.Role != "" && user.Role != req.Actor.Role {
			if err := tx.Model(&user).Update("role", req.Actor.Role).Error; err != nil {
				return err
			}
		}

		entry.CreatedByID = user.ID
		return tx.Omit("CreatedBy", "Groups.*").Create(entry).Error
	})
	if err != nil {
		return nil, err
	}
	entry.CreatedBy = user
	return entry, nil
}

// CancelScheduled cancels a scheduled push at the provider and marks its log CANCELLED.
func (d *dispatchNotification) CancelScheduled(ctx context.Context, logID string) (*models.NotificationLog, error) {
	var entry models.NotificationLog
	tx := d.db.WithContext(ctx).
		Preload("Groups").
		Preload("CreatedBy").
		Where("id = ?", logID).
		Limit(1).
		Find(&entry)
	if err := tx.Error; err != nil {
		return nil, err
	}
	if tx.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	if entry.Status != models.StatusScheduled {
		return nil, validationErrorf("only scheduled notifications can be cancelled, this one is %s", entry.Status)
	}
	if entry.ProviderNotificationID == "" {
		return nil, validationErrorf("notification %s has no provider id to cancel", entry.ID)
	}

	if err := d.provider.CancelNotification(ctx, entry.ProviderNotificationID); err != nil {
		var pe *onesignal.ProviderError
		if errors.As(err, &pe) {
			d.log.Sugar().Warnw("Provider refused cancellation", "log_id", entry.ID, "provider_id", entry.ProviderNotificationID, "err", err)
		}
		return nil, err
	}

	tx = d.db.WithContext(context.WithoutCancel(ctx)).Model(&entry).Update("status", models.StatusCancelled)
	if err := tx.Error; err != nil {
		return nil, err
	}
	entry.Status = models.StatusCancelled
	dispatchesTotal.WithLabelValues("cancelled").Inc()
	d.log.Sugar().Infow("Scheduled notification cancelled", "log_id", entry.ID, "provider_id", entry.ProviderNotificationID)
	return &entry, nil
}
