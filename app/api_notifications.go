package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/fiffu/pushpanel/lib"
	"github.com/fiffu/pushpanel/lib/models"
	"github.com/go-chi/chi/v5"
)

type dispatchBody struct {
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Groups     []string `json:"groups"`
	URL        string   `json:"url"`
	ImageURL   string   `json:"imageUrl"`
	ScheduleAt string   `json:"scheduleAt"`
}

func (body dispatchBody) request(actor lib.Actor) (lib.DispatchRequest, error) {
	req := lib.DispatchRequest{
		Title:    body.Title,
		Message:  body.Message,
		GroupIDs: body.Groups,
		URL:      body.URL,
		ImageURL: body.ImageURL,
		Actor:    actor,
	}
	if raw := strings.TrimSpace(body.ScheduleAt); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return req, &lib.ValidationError{Message: "scheduleAt must be an RFC3339 timestamp"}
		}
		req.ScheduleAt = &at
	}
	return req, nil
}

type dispatchView struct {
	Log                NotificationLogView `json:"log"`
	ProviderDispatchID string              `json:"providerDispatchId"`
	Recipients         int                 `json:"recipients"`
}

func (ctrl *controller) dispatchNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body dispatchBody
	if err := decodeBody(r, &body); err != nil {
		ctrl.reject(w, r, err)
		return
	}
	req, err := body.request(actorFrom(ctx))
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}

	res, err := ctrl.svc.DispatchNotification(ctx, req)
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, dispatchView{
		Log:                NotificationLogView{}.From(res.Log),
		ProviderDispatchID: res.ProviderDispatchID,
		Recipients:         res.Recipients,
	})
}

func (ctrl *controller) notificationHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, err := ctrl.svc.ListNotificationHistory(r.Context(), lib.HistoryQuery{
		Page:      queryInt(r, "page"),
		PageSize:  queryInt(r, "pageSize"),
		Status:    models.NotificationStatus(strings.ToUpper(query.Get("status"))),
		GroupID:   query.Get("groupId"),
		CreatedBy: query.Get("createdBy"),
	})
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}

	results := FromMany[NotificationLogView](page.Logs)
	ctrl.resolve(w, http.StatusOK, NewPageView(results, page.Pagination))
}

func (ctrl *controller) cancelNotification(w http.ResponseWriter, r *http.Request) {
	entry, err := ctrl.svc.CancelScheduled(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"success": true,
		"log":     NotificationLogView{}.From(entry),
	})
}
