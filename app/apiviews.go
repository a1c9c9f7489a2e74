package app

import (
	"database/sql"
	"time"

	"github.com/fiffu/pushpanel/lib"
	"github.com/fiffu/pushpanel/lib/models"
)

type GroupRefView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (view GroupRefView) From(entity *models.Group) GroupRefView {
	return GroupRefView{ID: entity.ID, Name: entity.Name}
}

type GroupView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MemberCount int64  `json:"memberCount"`
	IsDefault   bool   `json:"isDefault"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func (view GroupView) From(entity *models.GroupWithCount) GroupView {
	return GroupView{
		ID:          entity.ID,
		Name:        entity.Name,
		Description: entity.Description,
		MemberCount: entity.MemberCount,
		IsDefault:   entity.IsDefault(),
		CreatedAt:   timestamp(entity.CreatedAt),
		UpdatedAt:   timestamp(entity.UpdatedAt),
	}
}

type SubscriberView struct {
	ID         string         `json:"id"`
	ExternalID string         `json:"externalId"`
	Contact    *string        `json:"contact"`
	CreatedAt  string         `json:"createdAt"`
	UpdatedAt  string         `json:"updatedAt"`
	Groups     []GroupRefView `json:"groups"`
}

func (view SubscriberView) From(entity *models.Subscriber) SubscriberView {
	var contact *string
	if entity.HasContact() {
		contact = &entity.Contact.String
	}
	return SubscriberView{
		ID:         entity.ID,
		ExternalID: entity.ExternalID,
		Contact:    contact,
		CreatedAt:  timestamp(entity.CreatedAt),
		UpdatedAt:  timestamp(entity.UpdatedAt),
		Groups:     FromMany[GroupRefView](entity.Groups),
	}
}

type UserView struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type NotificationLogView struct {
	ID                     string         `json:"id"`
	Title                  string         `json:"title"`
	Message                string         `json:"message"`
	URL                    string         `json:"url,omitempty"`
	ImageURL               string         `json:"imageUrl,omitempty"`
	Status                 string         `json:"status"`
	ScheduledAt            *string        `json:"scheduledAt"`
	SentAt                 *string        `json:"sentAt"`
	ProviderNotificationID string         `json:"providerNotificationId"`
	Recipients             int            `json:"recipients"`
	Delivered              int            `json:"delivered"`
	Failed                 int            `json:"failed"`
	CreatedBy              *UserView      `json:"createdBy"`
	CreatedAt              string         `json:"createdAt"`
	Groups                 []GroupRefView `json:"groups"`
}

func (view NotificationLogView) From(entity *models.NotificationLog) NotificationLogView {
	var createdBy *UserView
	if entity.CreatedBy.ID != 0 {
		createdBy = &UserView{entity.CreatedBy.Username, entity.CreatedBy.Role}
	}
	return NotificationLogView{
		ID:                     entity.ID,
		Title:                  entity.Title,
		Message:                entity.Message,
		URL:                    entity.URL,
		ImageURL:               entity.ImageURL,
		Status:                 string(entity.Status),
		ScheduledAt:            isoformat(entity.ScheduledAt),
		SentAt:                 isoformat(entity.SentAt),
		ProviderNotificationID: entity.ProviderNotificationID,
		Recipients:             entity.Recipients,
		Delivered:              entity.Delivered,
		Failed:                 entity.Failed,
		CreatedBy:              createdBy,
		CreatedAt:              timestamp(entity.CreatedAt),
		Groups:                 FromMany[GroupRefView](entity.Groups),
	}
}

type SyncSummaryView struct {
	ProviderTotal         int               `json:"providerTotal"`
	ProviderActive        int               `json:"providerActive"`
	Ignored               int               `json:"ignored"`
	LocalCreated          int               `json:"localCreated"`
	LocalUpdated          int               `json:"localUpdated"`
	Errors                int               `json:"errors"`
	TotalLocalSubscribers int64             `json:"totalLocalSubscribers"`
	Pages                 int               `json:"pages"`
	Truncated             bool              `json:"truncated"`
	DefaultGroupID        string            `json:"defaultGroupId,omitempty"`
	Failures              []lib.RecordError `json:"failures,omitempty"`
}

func (view SyncSummaryView) From(entity *lib.SyncSummary) SyncSummaryView {
	return SyncSummaryView{
		ProviderTotal:         entity.ProviderTotal,
		ProviderActive:        entity.ProviderActive,
		Ignored:               entity.Ignored,
		LocalCreated:          entity.LocalCreated,
		LocalUpdated:          entity.LocalUpdated,
		Errors:                entity.Errors,
		TotalLocalSubscribers: entity.TotalLocalSubscribers,
		Pages:                 entity.Pages,
		Truncated:             entity.Truncated,
		DefaultGroupID:        entity.DefaultGroupID,
		Failures:              entity.Failures,
	}
}

type SyncStatusView struct {
	LocalSubscribers    int64  `json:"localSubscribers"`
	ProviderSubscribers int    `json:"providerSubscribers"`
	SyncNeeded          bool   `json:"syncNeeded"`
	LastSyncCheck       string `json:"lastSyncCheck"`
	ProviderError       string `json:"providerError,omitempty"`
	AppIDConfigured     bool   `json:"appIdConfigured"`
	APIKeyConfigured    bool   `json:"apiKeyConfigured"`
}

func (view SyncStatusView) From(entity *lib.ProviderSyncStatus) SyncStatusView {
	return SyncStatusView{
		LocalSubscribers:    entity.LocalSubscribers,
		ProviderSubscribers: entity.ProviderSubscribers,
		SyncNeeded:          entity.SyncNeeded,
		LastSyncCheck:       timestamp(entity.CheckedAt),
		ProviderError:       entity.ProviderError,
		AppIDConfigured:     entity.AppIDConfigured,
		APIKeyConfigured:    entity.APIKeyConfigured,
	}
}

type StatsView struct {
	TotalSubscribers       int64   `json:"totalSubscribers"`
	NewThisMonth           int64   `json:"newThisMonth"`
	GrowthPercent          float64 `json:"monthlyGrowthPercent"`
	ActiveSubscribers      int64   `json:"activeSubscribers"`
	ActivePercent          float64 `json:"activePercent"`
	TotalGroups            int64   `json:"totalGroups"`
	NotificationsSentToday int64   `json:"notificationsSentToday"`
}

func (view StatsView) From(entity *lib.SubscriberStats) StatsView {
	return StatsView{
		TotalSubscribers:       entity.TotalSubscribers,
		NewThisMonth:           entity.NewThisMonth,
		GrowthPercent:          entity.GrowthPercent,
		ActiveSubscribers:      entity.ActiveSubscribers,
		ActivePercent:          entity.ActivePercent,
		TotalGroups:            entity.TotalGroups,
		NotificationsSentToday: entity.NotificationsSentToday,
	}
}

type PageView[T any] struct {
	Results    []T   `json:"results"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
}

func NewPageView[T any](results []T, p lib.Pagination) PageView[T] {
	return PageView[T]{results, p.Total, p.TotalPages, p.Page, p.PageSize}
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[U Fromable[*T, U], T any](elems []T) []U {
	out := make([]U, len(elems))
	for i := range elems {
		var u U
		out[i] = u.From(&elems[i])
	}
	return out
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func isoformat(t sql.NullTime) *string {
	if !t.Valid {
		return nil
	}
	s := timestamp(t.Time)
	return &s
}
