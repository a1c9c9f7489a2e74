package lib

import (
	"context"
	"strings"

	"github.com/fiffu/pushpanel/lib/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type manageGroups struct {
	log *zap.Logger
	db  *gorm.DB
}

type GroupInput struct {
	Name          string
	Description   string
	SubscriberIDs []string
}

// GroupUpdate carries only the fields to change; nil pointers are left alone.
type GroupUpdate struct {
	Name                *string
	Description         *string
	SubscriberIDsAdd    []string
	SubscriberIDsRemove []string
}

// ListGroups returns groups newest first with their member counts. search matches names
// case-insensitively.
func (m *manageGroups) ListGroups(ctx context.Context, search string) ([]models.GroupWithCount, error) {
	query := m.db.WithContext(ctx).Order("created_at DESC")
	if search = strings.TrimSpace(search); search != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var groups models.Groups
	if err := query.Find(&groups).Error; err != nil {
		return nil, err
	}
	return m.withCounts(ctx, groups)
}

func (m *manageGroups) withCounts(ctx context.Context, groups models.Groups) ([]models.GroupWithCount, error) {
	if len(groups) == 0 {
		return []models.GroupWithCount{}, nil
	}

	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}

	var rows []struct {
		GroupID string
		Members int64
	}
	tx := m.db.WithContext(ctx).
		Table("subscriber_groups").
		Select("group_id, COUNT(*) AS members").
		Where("group_id IN ?", ids).
		Group("group_id").
		Scan(&rows)
	if err := tx.Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.GroupID] = r.Members
	}

	result := make([]models.GroupWithCount, len(groups))
	for i, g := range groups {
		result[i] = models.GroupWithCount{Group: g, MemberCount: counts[g.ID]}
	}
	return result, nil
}

func (m *manageGroups) findGroup(ctx context.Context, id string) (*models.Group, error) {
	var group models.Group
	tx := m.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&group)
	if err := tx.Error; err != nil {
		return nil, err
	}
	if tx.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &group, nil
}

func (m *manageGroups) checkNameFree(ctx context.Context, name, exceptID string) error {
	var count int64
	tx := m.db.WithContext(ctx).
		Model(&models.Group{}).
		Where("name = ?", name).
		Where("id <> ?", exceptID).
		Count(&count)
	if err := tx.Error; err != nil {
		return err
	}
	if count > 0 {
		return &ConflictError{"A group with this name already exists"}
	}
	return nil
}

func (m *manageGroups) findSubscribers(ctx context.Context, ids []string) (models.Subscribers, error) {
	var subs models.Subscribers
	if len(ids) == 0 {
		return subs, nil
	}
	tx := m.db.WithContext(ctx).Where("id IN ?", ids).Find(&subs)
	if err := tx.Error; err != nil {
		return nil, err
	}
	if len(subs) != len(dedupe(ids)) {
		return nil, validationErrorf("one or more subscriber ids do not exist")
	}
	return subs, nil
}

func (m *manageGroups) CreateGroup(ctx context.Context, in GroupInput) (*models.GroupWithCount, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationErrorf("group name is required")
	}
	if err := m.checkNameFree(ctx, name, ""); err != nil {
		return nil, err
	}

	subs, err := m.findSubscribers(ctx, in.SubscriberIDs)
	if err != nil {
		return nil, err
	}

	group := models.Group{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Subscribers: subs,
	}
	if err := m.db.WithContext(ctx).Omit("Subscribers.*").Create(&group).Error; err != nil {
		return nil, err
	}
	m.log.Sugar().Infow("Group created", "group_id", group.ID, "name", group.Name, "members", len(subs))

	group.Subscribers = nil
	return &models.GroupWithCount{Group: group, MemberCount: int64(len(subs))}, nil
}

func (m *manageGroups) UpdateGroup(ctx context.Context, id string, in GroupUpdate) (*models.GroupWithCount, error) {
	group, err := m.findGroup(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, validationErrorf("group name must not be empty")
		}
		if name != group.Name {
			if group.IsDefault() {
				return nil, ErrForbidden
			}
			if err := m.checkNameFree(ctx, name, group.ID); err != nil {
				return nil, err
			}
			updates["name"] = name
		}
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}

	add, err := m.findSubscribers(ctx, in.SubscriberIDsAdd)
	if err != nil {
		return nil, err
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(group).Updates(updates).Error; err != nil {
				return err
			}
		}
		if len(add) > 0 {
			if err := tx.Model(group).Association("Subscribers").Append(add); err != nil {
				return err
			}
		}
		if remove := dedupe(in.SubscriberIDsRemove); len(remove) > 0 {
			subs := make(models.Subscribers, len(remove))
			for i, id := range remove {
				subs[i] = models.Subscriber{ID: id}
			}
			if err := tx.Model(group).Association("Subscribers").Delete(subs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	group, err = m.findGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	withCounts, err := m.withCounts(ctx, models.Groups{*group})
	if err != nil {
		return nil, err
	}
	m.log.Sugar().Infow("Group updated", "group_id", group.ID, "added", len(add), "removed", len(in.SubscriberIDsRemove))
	return &withCounts[0], nil
}

// DeleteGroup removes a group and its memberships. The default group cannot be deleted.
func (m *manageGroups) DeleteGroup(ctx context.Context, id string) error {
	group, err := m.findGroup(ctx, id)
	if err != nil {
		return err
	}
	if group.IsDefault() {
		return ErrForbidden
	}

	// Memberships go with the group. notification_log_groups rows are kept so history can
	// still be filtered by the deleted group's id.
	tx := m.db.WithContext(ctx).Select("Subscribers").Delete(group)
	if err := tx.Error; err != nil {
		return err
	}
	m.log.Sugar().Infow("Group deleted", "group_id", group.ID, "name", group.Name)
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
