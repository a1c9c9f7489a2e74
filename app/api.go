package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fiffu/pushpanel/config"
	"github.com/fiffu/pushpanel/lib"
	"github.com/fiffu/pushpanel/onesignal"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Sugar().Errorw("HTTP server stopped", "err", err)
				}
			}()
			log.Sugar().Infow("HTTP server listening", "addr", addr)
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service) http.Handler {
	ctrl := &controller{log, svc}
	auth := basicAuth("pushpanel", cfg.GetCreds())
	admin := requireRole(config.RoleAdmin)
	staff := requireRole(config.RoleAdmin, config.RoleSender)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/subscribers", func(r chi.Router) {
			r.Post("/register", ctrl.registerSubscriber)
			r.Post("/status", ctrl.subscriberStatus)
			r.Post("/unsubscribe", ctrl.unsubscribe)

			r.Group(func(r chi.Router) {
				r.Use(auth, admin)
				r.Get("/", ctrl.listSubscribers)
				r.Get("/stats", ctrl.subscriberStats)
				r.Get("/export", ctrl.exportSubscribers)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Route("/sync", func(r chi.Router) {
				r.Use(admin)
				r.Post("/", ctrl.syncSubscribers)
				r.Get("/", ctrl.syncStatus)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Use(staff)
				r.Post("/", ctrl.dispatchNotification)
				r.Get("/", ctrl.notificationHistory)
				r.Post("/{id}/cancel", ctrl.cancelNotification)
			})

			r.Route("/groups", func(r chi.Router) {
				r.With(staff).Get("/", ctrl.listGroups)
				r.With(admin).Post("/", ctrl.createGroup)
				r.With(admin).Patch("/{id}", ctrl.updateGroup)
				r.With(admin).Delete("/{id}", ctrl.deleteGroup)
			})
		})
	})

	return r
}

type controller struct {
	log *zap.Logger
	svc *lib.Service
}

type errorView struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func (ctrl *controller) reject(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)

	args := []any{"method", r.Method, "path", r.URL.Path, "status", status, "err", err}
	switch {
	case status >= 500:
		ctrl.log.Sugar().Errorw("Request failed", args...)
	default:
		ctrl.log.Sugar().Infow("Request rejected", args...)
	}

	writeJSON(w, status, errorView{Error: message})
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if body == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, body)
}

// statusFor maps an error from the service layer to a status code and a client message.
func statusFor(err error) (int, string) {
	var (
		configErr     *onesignal.ConfigurationError
		inconsistency *lib.InconsistencyError
		validation    *lib.ValidationError
		providerInput *onesignal.ValidationError
		noRecipients  *lib.NoRecipientsError
		conflict      *lib.ConflictError
		syncErr       *lib.SyncError
		providerErr   *onesignal.ProviderError
	)

	switch {
	case errors.As(err, &configErr):
		return http.StatusInternalServerError, configErr.Error()
	case errors.As(err, &inconsistency):
		return http.StatusInternalServerError, inconsistency.Error()
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Error()
	case errors.As(err, &providerInput):
		return http.StatusBadRequest, providerInput.Error()
	case errors.As(err, &noRecipients):
		return http.StatusUnprocessableEntity, noRecipients.Error()
	case errors.As(err, &conflict):
		return http.StatusConflict, conflict.Error()
	case errors.Is(err, lib.ErrSyncInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, lib.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, lib.ErrForbidden):
		return http.StatusForbidden, "This operation is not allowed"
	case errors.As(err, &syncErr):
		return http.StatusBadGateway, syncErr.Error()
	case errors.As(err, &providerErr):
		return http.StatusBadGateway, providerErr.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timed out"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func decodeBody(r *http.Request, dest any) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return &lib.ValidationError{Message: "invalid JSON body: " + err.Error()}
	}
	return nil
}

func queryInt(r *http.Request, key string) int {
	i, _ := strconv.Atoi(r.URL.Query().Get(key))
	return i
}
