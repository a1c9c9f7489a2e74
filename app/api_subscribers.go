package app

import (
	"net/http"
	"strings"

	"github.com/fiffu/pushpanel/lib"
)

// contactBody accepts the contact under either name; older app builds send mobileNumber.
type contactBody struct {
	ExternalID   string `json:"externalId"`
	Contact      string `json:"contact"`
	MobileNumber string `json:"mobileNumber"`
}

func (body contactBody) contact() string {
	if body.Contact != "" {
		return body.Contact
	}
	return body.MobileNumber
}

type registrationView struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	Subscriber SubscriberView `json:"subscriber"`
	IsNew      bool           `json:"isNew"`
}

func (ctrl *controller) registerSubscriber(w http.ResponseWriter, r *http.Request) {
	var body contactBody
	if err := decodeBody(r, &body); err != nil {
		ctrl.reject(w, r, err)
		return
	}

	res, err := ctrl.svc.RegisterSubscriber(r.Context(), body.ExternalID, body.contact())
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}

	status := http.StatusOK
	if res.IsNew {
		status = http.StatusCreated
	}
	ctrl.resolve(w, status, registrationView{
		Success:    true,
		Message:    res.Message,
		Subscriber: SubscriberView{}.From(res.Subscriber),
		IsNew:      res.IsNew,
	})
}

type subscriberStatusView struct {
	Subscribed bool            `json:"subscribed"`
	Subscriber *SubscriberView `json:"subscriber"`
}

func (ctrl *controller) subscriberStatus(w http.ResponseWriter, r *http.Request) {
	var body contactBody
	if err := decodeBody(r, &body); err != nil {
		ctrl.reject(w, r, err)
		return
	}

	sub, err := ctrl.svc.SubscriberStatus(r.Context(), body.ExternalID)
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}

	view := subscriberStatusView{}
	if sub != nil {
		v := SubscriberView{}.From(sub)
		view = subscriberStatusView{Subscribed: true, Subscriber: &v}
	}
	ctrl.resolve(w, http.StatusOK, view)
}

func (ctrl *controller) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var body contactBody
	if err := decodeBody(r, &body); err != nil {
		ctrl.reject(w, r, err)
		return
	}

	sub, err := ctrl.svc.Unsubscribe(r.Context(), body.ExternalID, body.contact())
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "Successfully unsubscribed",
		"subscriberId": sub.ID,
	})
}

func (ctrl *controller) listSubscribers(w http.ResponseWriter, r *http.Request) {
	page, err := ctrl.svc.ListSubscribers(r.Context(), lib.SubscriberQuery{
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "pageSize"),
		Search:   r.URL.Query().Get("search"),
	})
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}

	results := FromMany[SubscriberView](page.Subscribers)
	ctrl.resolve(w, http.StatusOK, NewPageView(results, page.Pagination))
}

func (ctrl *controller) subscriberStats(w http.ResponseWriter, r *http.Request) {
	stats, err := ctrl.svc.SubscriberStats(r.Context())
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, StatsView{}.From(stats))
}

func (ctrl *controller) exportSubscribers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	format := strings.ToLower(query.Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		ctrl.reject(w, r, &lib.ValidationError{Message: "format must be csv or json"})
		return
	}
	includeGroups := query.Get("includeGroups") == "true"

	subs, err := ctrl.svc.ExportSubscribers(r.Context(), includeGroups)
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}

	if format == "json" {
		ctrl.resolve(w, http.StatusOK, FromMany[SubscriberView](subs))
		return
	}
	if err := writeSubscribersCSV(w, subs, includeGroups); err != nil {
		ctrl.log.Sugar().Errorw("CSV export interrupted", "err", err)
	}
}
