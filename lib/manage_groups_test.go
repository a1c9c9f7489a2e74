package lib

import (
	"context"
	"errors"
	"testing"

	"github.com/fiffu/pushpanel/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroups_CreateListUpdateDelete(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	a := mustSubscriber(t, svc.db, "A", "")
	b := mustSubscriber(t, svc.db, "B", "")
	c := mustSubscriber(t, svc.db, "C", "")

	vip, err := svc.CreateGroup(ctx, GroupInput{Name: " VIP ", Description: "big spenders", SubscriberIDs: []string{a.ID, b.ID}})
	require.NoError(t, err)
	assert.Equal(t, "VIP", vip.Name)
	assert.EqualValues(t, 2, vip.MemberCount)

	_, err = svc.CreateGroup(ctx, GroupInput{Name: "Newsletter"})
	require.NoError(t, err)

	groups, err := svc.ListGroups(ctx, "")
	require.NoError(t, err)
	require.Len(t, groups, 2)

	groups, err = svc.ListGroups(ctx, "vi")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, vip.ID, groups[0].ID)
	assert.EqualValues(t, 2, groups[0].MemberCount)

	name, desc := "VVIP", ""
	updated, err := svc.UpdateGroup(ctx, vip.ID, GroupUpdate{
		Name:                &name,
		Description:         &desc,
		SubscriberIDsAdd:    []string{c.ID, a.ID},
		SubscriberIDsRemove: []string{b.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "VVIP", updated.Name)
	assert.Empty(t, updated.Description)
	assert.EqualValues(t, 2, updated.MemberCount)

	var members []string
	require.NoError(t, svc.db.Table("subscriber_groups").Where("group_id = ?", vip.ID).Order("subscriber_id").Pluck("subscriber_id", &members).Error)
	expected := []string{a.ID, c.ID}
	if expected[0] > expected[1] {
		expected[0], expected[1] = expected[1], expected[0]
	}
	assert.Equal(t, expected, members)

	require.NoError(t, svc.DeleteGroup(ctx, vip.ID))
	assert.ErrorIs(t, svc.DeleteGroup(ctx, vip.ID), ErrNotFound)

	var memberships int64
	require.NoError(t, svc.db.Table("subscriber_groups").Count(&memberships).Error)
	assert.Zero(t, memberships)
	assert.EqualValues(t, 3, countSubscribers(t, svc), "deleting a group keeps its subscribers")
}

func TestGroups_DuplicateName(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	first, err := svc.CreateGroup(ctx, GroupInput{Name: "VIP"})
	require.NoError(t, err)
	second, err := svc.CreateGroup(ctx, GroupInput{Name: "Other"})
	require.NoError(t, err)

	var ce *ConflictError
	_, err = svc.CreateGroup(ctx, GroupInput{Name: "VIP"})
	assert.True(t, errors.As(err, &ce))

	name := "VIP"
	_, err = svc.UpdateGroup(ctx, second.ID, GroupUpdate{Name: &name})
	assert.True(t, errors.As(err, &ce))

	_, err = svc.UpdateGroup(ctx, first.ID, GroupUpdate{Name: &name})
	assert.NoError(t, err, "keeping the same name is not a conflict")
}

func TestGroups_DefaultGroupIsProtected(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	group, err := ensureDefaultGroup(ctx, svc.db)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteGroup(ctx, group.ID), ErrForbidden)

	name := "Everyone"
	_, err = svc.UpdateGroup(ctx, group.ID, GroupUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrForbidden)

	desc := "all of them"
	updated, err := svc.UpdateGroup(ctx, group.ID, GroupUpdate{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultGroupName, updated.Name)
	assert.Equal(t, "all of them", updated.Description)
}

func TestGroups_UnknownSubscriber(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.CreateGroup(context.Background(), GroupInput{Name: "VIP", SubscriberIDs: []string{"missing"}})
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = svc.UpdateGroup(context.Background(), "missing", GroupUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroups_DeleteKeepsHistory(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	operator := models.User{Username: "operator", Role: "ADMIN"}
	require.NoError(t, svc.db.Create(&operator).Error)

	promo := mustGroup(t, svc.db, "Promo")
	mustSubscriber(t, svc.db, "A", "", promo)
	entry := mustLog(t, svc.db, "Sale", models.StatusSent, fixedNow, &operator, promo)

	require.NoError(t, svc.DeleteGroup(ctx, promo.ID))

	var memberships int64
	require.NoError(t, svc.db.Table("subscriber_groups").Where("group_id = ?", promo.ID).Count(&memberships).Error)
	assert.Zero(t, memberships)

	page, err := svc.ListNotificationHistory(ctx, HistoryQuery{GroupID: promo.ID})
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, entry.ID, page.Logs[0].ID)
	assert.Empty(t, page.Logs[0].Groups, "the deleted group no longer resolves")
}
