package app

import (
	"net/http"

	"github.com/fiffu/pushpanel/lib"
	"github.com/go-chi/chi/v5"
)

type groupBody struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	SubscriberIDs []string `json:"subscriberIds"`
}

type groupPatchBody struct {
	Name                *string  `json:"name"`
	Description         *string  `json:"description"`
	SubscriberIDsAdd    []string `json:"subscriberIdsAdd"`
	SubscriberIDsRemove []string `json:"subscriberIdsRemove"`
}

func (ctrl *controller) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := ctrl.svc.ListGroups(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, FromMany[GroupView](groups))
}

func (ctrl *controller) createGroup(w http.ResponseWriter, r *http.Request) {
	var body groupBody
	if err := decodeBody(r, &body); err != nil {
		ctrl.reject(w, r, err)
		return
	}

	group, err := ctrl.svc.CreateGroup(r.Context(), lib.GroupInput{
		Name:          body.Name,
		Description:   body.Description,
		SubscriberIDs: body.SubscriberIDs,
	})
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, GroupView{}.From(group))
}

func (ctrl *controller) updateGroup(w http.ResponseWriter, r *http.Request) {
	var body groupPatchBody
	if err := decodeBody(r, &body); err != nil {
		ctrl.reject(w, r, err)
		return
	}

	group, err := ctrl.svc.UpdateGroup(r.Context(), chi.URLParam(r, "id"), lib.GroupUpdate{
		Name:                body.Name,
		Description:         body.Description,
		SubscriberIDsAdd:    body.SubscriberIDsAdd,
		SubscriberIDsRemove: body.SubscriberIDsRemove,
	})
	if err != nil {
		ctrl.reject(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, GroupView{}.From(group))
}

func (ctrl *controller) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.DeleteGroup(r.Context(), chi.URLParam(r, "id")); err != nil {
		ctrl.reject(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusNoContent, nil)
}
