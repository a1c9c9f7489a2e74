package lib

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/fiffu/pushpanel/lib/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type reporting struct {
	log *zap.Logger
	db  *gorm.DB
	now func() time.Time
}

type Pagination struct {
	Page       int
	PageSize   int
	Total      int64
	TotalPages int
}

func newPagination(page, pageSize, defaultSize, maxSize int) Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultSize
	}
	if pageSize > maxSize {
		pageSize = maxSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

func (p *Pagination) offset() int {
	return (p.Page - 1) * p.PageSize
}

func (p *Pagination) setTotal(total int64) {
	p.Total = total
	p.TotalPages = int(math.Max(1, math.Ceil(float64(total)/float64(p.PageSize))))
}

type HistoryQuery struct {
	Page      int
	PageSize  int
	Status    models.NotificationStatus
	GroupID   string
	CreatedBy string
}

type HistoryPage struct {
	Logs       models.NotificationLogs
	Pagination Pagination
}

// ListNotificationHistory pages through notification logs, newest first.
func (r *reporting) ListNotificationHistory(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, validationErrorf("unknown status %q", q.Status)
	}
	page := newPagination(q.Page, q.PageSize, 20, 100)

	db := r.db.WithContext(ctx)
	query := db.Model(&models.NotificationLog{})
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if q.GroupID != "" {
		query = query.Where("id IN (?)", db.Table("notification_log_groups").Select("notification_log_id").Where("group_id = ?", q.GroupID))
	}
	if q.CreatedBy != "" {
		query = query.Where("created_by_id IN (?)", db.Model(&models.User{}).Select("id").Where("username = ?", q.CreatedBy))
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}
	page.setTotal(total)

	var logs models.NotificationLogs
	tx := query.
		Preload("Groups").
		Preload("CreatedBy").
		Order("created_at DESC").
		Offset(page.offset()).
		Limit(page.PageSize).
		Find(&logs)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return &HistoryPage{logs, page}, nil
}

type SubscriberQuery struct {
	Page     int
	PageSize int
	Search   string
}

type SubscriberPage struct {
	Subscribers models.Subscribers
	Pagination  Pagination
}

func (r *reporting) ListSubscribers(ctx context.Context, q SubscriberQuery) (*SubscriberPage, error) {
	page := newPagination(q.Page, q.PageSize, 100, 1000)

	query := r.db.WithContext(ctx).Model(&models.Subscriber{})
	if search := strings.TrimSpace(q.Search); search != "" {
		like := "%" + search + "%"
		query = query.Where("contact LIKE ? OR external_id LIKE ?", like, like)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}
	page.setTotal(total)

	var subs models.Subscribers
	tx := query.
		Preload("Groups").
		Order("created_at DESC").
		Offset(page.offset()).
		Limit(page.PageSize).
		Find(&subs)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return &SubscriberPage{subs, page}, nil
}

type SubscriberStats struct {
	TotalSubscribers       int64
	NewThisMonth           int64
	NewLastMonth           int64
	GrowthPercent          float64
	ActiveSubscribers      int64
	ActivePercent          float64
	TotalGroups            int64
	NotificationsSentToday int64
}

// SubscriberStats summarises the dashboard counters. Months and days are UTC.
func (r *reporting) SubscriberStats(ctx context.Context) (*SubscriberStats, error) {
	now := r.now().UTC()
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	startOfLastMonth := startOfMonth.AddDate(0, -1, 0)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	db := r.db.WithContext(ctx)
	stats := &SubscriberStats{}

	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&stats.TotalSubscribers, db.Model(&models.Subscriber{})},
		{&stats.NewThisMonth, db.Model(&models.Subscriber{}).Where("created_at >= ?", startOfMonth)},
		{&stats.NewLastMonth, db.Model(&models.Subscriber{}).Where("created_at >= ? AND created_at < ?", startOfLastMonth, startOfMonth)},
		{&stats.ActiveSubscribers, db.Model(&models.Subscriber{}).Where("id IN (?)", db.Table("subscriber_groups").Select("subscriber_id"))},
		{&stats.TotalGroups, db.Model(&models.Group{})},
		{&stats.NotificationsSentToday, db.Model(&models.NotificationLog{}).Where("status = ?", models.StatusSent).Where("sent_at >= ?", startOfDay)},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return nil, err
		}
	}

	switch {
	case stats.NewLastMonth > 0:
		stats.GrowthPercent = roundTenth(float64(stats.NewThisMonth-stats.NewLastMonth) / float64(stats.NewLastMonth) * 100)
	case stats.NewThisMonth > 0:
		stats.GrowthPercent = 100
	}
	if stats.TotalSubscribers > 0 {
		stats.ActivePercent = roundTenth(float64(stats.ActiveSubscribers) / float64(stats.TotalSubscribers) * 100)
	}
	return stats, nil
}

func roundTenth(f float64) float64 {
	return math.Round(f*10) / 10
}

// ExportSubscribers returns every subscriber, oldest first.
func (r *reporting) ExportSubscribers(ctx context.Context, includeGroups bool) (models.Subscribers, error) {
	query := r.db.WithContext(ctx).Order("created_at ASC")
	if includeGroups {
		query = query.Preload("Groups")
	}

	var subs models.Subscribers
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	r.log.Sugar().Infow("Subscribers exported", "count", len(subs), "include_groups", includeGroups)
	return subs, nil
}
