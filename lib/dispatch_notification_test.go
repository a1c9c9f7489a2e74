package lib

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fiffu/pushpanel/lib/models"
	"github.com/fiffu/pushpanel/onesignal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var alice = Actor{Username: "alice", Role: "SENDER"}

func countLogs(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.NotificationLog{}).Count(&count).Error)
	return count
}

func TestDispatchNotification_VIPGroup(t *testing.T) {
	svc := newTestService(t, nil)
	vip := mustGroup(t, svc.db, "VIP")
	other := mustGroup(t, svc.db, "Other")
	mustSubscriber(t, svc.db, "C", "", vip)
	mustSubscriber(t, svc.db, "A", "", vip, other)
	mustSubscriber(t, svc.db, "B", "+6512345678", vip)
	mustSubscriber(t, svc.db, "Z", "", other)

	res, err := svc.DispatchNotification(context.Background(), DispatchRequest{
		Title:    "  VIP sale ",
		Message:  "Members only",
		GroupIDs: []string{vip.ID, vip.ID},
		Actor:    alice,
	})
	require.NoError(t, err)

	require.Len(t, svc.provider.sent, 1)
	assert.Equal(t, []string{"A", "B", "C"}, svc.provider.sent[0].PlayerIDs)
	assert.Equal(t, "VIP sale", svc.provider.sent[0].Title)
	assert.Nil(t, svc.provider.sent[0].ScheduleAt)

	assert.Equal(t, "notif-1", res.ProviderDispatchID)
	assert.Equal(t, 3, res.Recipients)
	assert.Equal(t, models.StatusSent, res.Log.Status)
	assert.Equal(t, "alice", res.Log.CreatedBy.Username)

	var entry models.NotificationLog
	require.NoError(t, svc.db.Preload("Groups").Preload("CreatedBy").First(&entry, "id = ?", res.Log.ID).Error)
	assert.Equal(t, models.StatusSent, entry.Status)
	assert.True(t, entry.SentAt.Valid)
	assert.True(t, entry.SentAt.Time.Equal(fixedNow))
	assert.False(t, entry.ScheduledAt.Valid)
	assert.Equal(t, 3, entry.Recipients)
	assert.Equal(t, "notif-1", entry.ProviderNotificationID)
	require.Len(t, entry.Groups, 1)
	assert.Equal(t, vip.ID, entry.Groups[0].ID)
	assert.Equal(t, "alice", entry.CreatedBy.Username)
	assert.Equal(t, "SENDER", entry.CreatedBy.Role)

	var groups int64
	require.NoError(t, svc.db.Model(&models.Group{}).Count(&groups).Error)
	assert.EqualValues(t, 2, groups, "linking the log must not create groups")
}

func TestDispatchNotification_UnionOfGroupsIsDistinct(t *testing.T) {
	svc := newTestService(t, nil)
	g1 := mustGroup(t, svc.db, "one")
	g2 := mustGroup(t, svc.db, "two")
	mustSubscriber(t, svc.db, "shared", "", g1, g2)
	mustSubscriber(t, svc.db, "only-two", "", g2)

	res, err := svc.DispatchNotification(context.Background(), DispatchRequest{
		Title: "t", Message: "m", GroupIDs: []string{g1.ID, g2.ID}, Actor: alice,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Recipients)
	assert.Equal(t, []string{"only-two", "shared"}, svc.provider.sent[0].PlayerIDs)
	assert.Len(t, res.Log.Groups, 2)
}

func TestDispatchNotification_Scheduled(t *testing.T) {
	svc := newTestService(t, nil)
	group := mustGroup(t, svc.db, "g")
	mustSubscriber(t, svc.db, "A", "", group)

	at := fixedNow.Add(2 * time.Hour)
	res, err := svc.DispatchNotification(context.Background(), DispatchRequest{
		Title: "later", Message: "m", GroupIDs: []string{group.ID}, ScheduleAt: &at, Actor: alice,
	})
	require.NoError(t, err)

	require.NotNil(t, svc.provider.sent[0].ScheduleAt)
	assert.True(t, svc.provider.sent[0].ScheduleAt.Equal(at))

	var entry models.NotificationLog
	require.NoError(t, svc.db.First(&entry, "id = ?", res.Log.ID).Error)
	assert.Equal(t, models.StatusScheduled, entry.Status)
	assert.True(t, entry.ScheduledAt.Valid)
	assert.True(t, entry.ScheduledAt.Time.Equal(at))
	assert.False(t, entry.SentAt.Valid)
}

func TestDispatchNotification_NoRecipients(t *testing.T) {
	svc := newTestService(t, nil)
	empty := mustGroup(t, svc.db, "empty")

	_, err := svc.DispatchNotification(context.Background(), DispatchRequest{
		Title: "t", Message: "m", GroupIDs: []string{empty.ID}, Actor: alice,
	})

	var nre *NoRecipientsError
	require.True(t, errors.As(err, &nre))
	assert.Equal(t, []string{empty.ID}, nre.GroupIDs)
	assert.Empty(t, svc.provider.sent, "the provider is never called without recipients")
	assert.Zero(t, countLogs(t, svc.db))
}

func TestDispatchNotification_ProviderFailureWritesNothing(t *testing.T) {
	svc := newTestService(t, nil)
	group := mustGroup(t, svc.db, "g")
	mustSubscriber(t, svc.db, "A", "", group)
	svc.provider.sendErr = &onesignal.ProviderError{Method: http.MethodPost, Endpoint: "/notifications", StatusCode: http.StatusBadRequest, Body: "invalid"}

	_, err := svc.DispatchNotification(context.Background(), DispatchRequest{
		Title: "t", Message: "m", GroupIDs: []string{group.ID}, Actor: alice,
	})

	var pe *onesignal.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Zero(t, countLogs(t, svc.db))

	var users int64
	require.NoError(t, svc.db.Model(&models.User{}).Count(&users).Error)
	assert.Zero(t, users)
}

func TestDispatchNotification_MissingCredentials(t *testing.T) {
	var pageHits atomic.Int32
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pageHits.Add(1)
		fmt.Fprint(w, `<meta property="og:image" content="/sale.png">`)
	}))
	t.Cleanup(page.Close)

	cfg := newTestConfig()
	cfg.Dispatch.LinkPreview = true
	svc := newTestService(t, cfg)
	svc.provider.configErr = &onesignal.ConfigurationError{Missing: []string{"ONESIGNAL_APP_ID", "ONESIGNAL_REST_API_KEY"}}

	empty := mustGroup(t, svc.db, "empty")
	members := mustGroup(t, svc.db, "members")
	mustSubscriber(t, svc.db, "A", "", members)

	cases := map[string]DispatchRequest{
		"group without members": {Title: "t", Message: "m", GroupIDs: []string{empty.ID}, Actor: alice},
		"link preview":          {Title: "t", Message: "m", GroupIDs: []string{members.ID}, URL: page.URL + "/sale", Actor: alice},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.DispatchNotification(context.Background(), req)

			var ce *onesignal.ConfigurationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			var nre *NoRecipientsError
			assert.False(t, errors.As(err, &nre))
		})
	}

	assert.Zero(t, pageHits.Load(), "no outbound call is made without credentials")
	assert.Empty(t, svc.provider.sent)
	assert.Zero(t, countLogs(t, svc.db))
}

func TestDispatchNotification_Validation(t *testing.T) {
	svc := newTestService(t, nil)
	group := mustGroup(t, svc.db, "g")
	mustSubscriber(t, svc.db, "A", "", group)
	past := fixedNow.Add(-time.Minute)

	cases := map[string]DispatchRequest{
		"blank title":      {Title: "  ", Message: "m", GroupIDs: []string{group.ID}, Actor: alice},
		"blank message":    {Title: "t", Message: "", GroupIDs: []string{group.ID}, Actor: alice},
		"no groups":        {Title: "t", Message: "m", GroupIDs: []string{" "}, Actor: alice},
		"past schedule":    {Title: "t", Message: "m", GroupIDs: []string{group.ID}, ScheduleAt: &past, Actor: alice},
		"relative url":     {Title: "t", Message: "m", GroupIDs: []string{group.ID}, URL: "/sale", Actor: alice},
		"ftp image":        {Title: "t", Message: "m", GroupIDs: []string{group.ID}, ImageURL: "ftp://x/y.png", Actor: alice},
		"unknown group id": {Title: "t", Message: "m", GroupIDs: []string{group.ID, "nope"}, Actor: alice},
		"no actor":         {Title: "t", Message: "m", GroupIDs: []string{group.ID}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.DispatchNotification(context.Background(), req)
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve), "got %v", err)
		})
	}
	assert.Empty(t, svc.provider.sent)
	assert.Zero(t, countLogs(t, svc.db))
}

func TestDispatchNotification_SentButNotLogged(t *testing.T) {
	svc := newTestService(t, nil)
	group := mustGroup(t, svc.db, "g")
	mustSubscriber(t, svc.db, "A", "", group)

	err := svc.db.Callback().Create().Before("gorm:create").Register("test:fail_logs", func(tx *gorm.DB) {
		if tx.Statement.Table == "notification_logs" {
			tx.AddError(errors.New("disk I/O error"))
		}
	})
	require.NoError(t, err)

	_, err = svc.DispatchNotification(context.Background(), DispatchRequest{
		Title: "t", Message: "m", GroupIDs: []string{group.ID}, Actor: alice,
	})

	var ie *InconsistencyError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "notif-1", ie.ProviderID)
	assert.Contains(t, ie.Error(), "disk I/O error")
	assert.Len(t, svc.provider.sent, 1)

	require.Len(t, svc.alerts.sent, 1)
	assert.Contains(t, svc.alerts.sent[0].Subject, "notif-1")
	assert.Contains(t, svc.alerts.sent[0].Body, "disk I/O error")
}

func TestDispatchNotification_LinkPreview(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head>
			<meta name="twitter:image" content="https://cdn.example.com/twitter.png">
			<meta property="og:image" content="/images/sale.png">
		</head><body>sale</body></html>`)
	}))
	t.Cleanup(page.Close)

	cfg := newTestConfig()
	cfg.Dispatch.LinkPreview = true
	svc := newTestService(t, cfg)
	group := mustGroup(t, svc.db, "g")
	mustSubscriber(t, svc.db, "A", "", group)

	res, err := svc.DispatchNotification(context.Background(), DispatchRequest{
		Title: "t", Message: "m", GroupIDs: []string{group.ID}, URL: page.URL + "/sale", Actor: alice,
	})
	require.NoError(t, err)

	assert.Equal(t, page.URL+"/images/sale.png", svc.provider.sent[0].ImageURL)
	assert.Equal(t, page.URL+"/images/sale.png", res.Log.ImageURL)
}

func TestDispatchNotification_LinkPreviewFailureIsIgnored(t *testing.T) {
	page := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(page.Close)

	cfg := newTestConfig()
	cfg.Dispatch.LinkPreview = true
	svc := newTestService(t, cfg)
	group := mustGroup(t, svc.db, "g")
	mustSubscriber(t, svc.db, "A", "", group)

	res, err := svc.DispatchNotification(context.Background(), DispatchRequest{
		Title: "t", Message: "m", GroupIDs: []string{group.ID}, URL: page.URL + "/gone", Actor: alice,
	})
	require.NoError(t, err)
	assert.Empty(t, svc.provider.sent[0].ImageURL)
	assert.Empty(t, res.Log.ImageURL)
}

func TestCancelScheduled(t *testing.T) {
	svc := newTestService(t, nil)
	group := mustGroup(t, svc.db, "g")
	mustSubscriber(t, svc.db, "A", "", group)

	at := fixedNow.Add(time.Hour)
	res, err := svc.DispatchNotification(context.Background(), DispatchRequest{
		Title: "t", Message: "m", GroupIDs: []string{group.ID}, ScheduleAt: &at, Actor: alice,
	})
	require.NoError(t, err)

	cancelled, err := svc.CancelScheduled(context.Background(), res.Log.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, []string{"notif-1"}, svc.provider.cancelled)

	var entry models.NotificationLog
	require.NoError(t, svc.db.First(&entry, "id = ?", res.Log.ID).Error)
	assert.Equal(t, models.StatusCancelled, entry.Status)

	_, err = svc.CancelScheduled(context.Background(), res.Log.ID)
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve), "a cancelled log cannot be cancelled again")

	_, err = svc.CancelScheduled(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelScheduled_ProviderFailureKeepsStatus(t *testing.T) {
	svc := newTestService(t, nil)
	group := mustGroup(t, svc.db, "g")
	mustSubscriber(t, svc.db, "A", "", group)

	at := fixedNow.Add(time.Hour)
	res, err := svc.DispatchNotification(context.Background(), DispatchRequest{
		Title: "t", Message: "m", GroupIDs: []string{group.ID}, ScheduleAt: &at, Actor: alice,
	})
	require.NoError(t, err)

	svc.provider.cancelErr = &onesignal.ProviderError{Method: http.MethodDelete, Endpoint: "/notifications/notif-1", StatusCode: http.StatusNotFound}
	_, err = svc.CancelScheduled(context.Background(), res.Log.ID)

	var pe *onesignal.ProviderError
	require.True(t, errors.As(err, &pe))

	var entry models.NotificationLog
	require.NoError(t, svc.db.First(&entry, "id = ?", res.Log.ID).Error)
	assert.Equal(t, models.StatusScheduled, entry.Status)
}
