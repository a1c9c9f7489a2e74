package app

import (
	"net/http"

	"github.com/fiffu/pushpanel/lib"
)

var syncMessages = map[lib.SyncStatus]string{
	lib.SyncCompleted:           "Sync completed",
	lib.SyncNothingToSync:       "No subscribers found in OneSignal",
	lib.SyncNoActiveSubscribers: "No active subscribers found in OneSignal",
}

type syncView struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Status  lib.SyncStatus  `json:"status"`
	Summary SyncSummaryView `json:"summary"`
}

func (ctrl *controller) syncSubscribers(w http.ResponseWriter, r *http.Request) {
	summary, err := ctrl.svc.SyncSubscribers(r.Context())
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}

	ctrl.resolve(w, http.StatusOK, syncView{
		Success: true,
		Message: syncMessages[summary.Status],
		Status:  summary.Status,
		Summary: SyncSummaryView{}.From(summary),
	})
}

func (ctrl *controller) syncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := ctrl.svc.SyncStatus(r.Context())
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, SyncStatusView{}.From(status))
}
