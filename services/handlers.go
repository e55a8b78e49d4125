package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/flashbots/ledgermix/mixer"
	"github.com/flashbots/ledgermix/nanorpc"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SessionAPI exposes a SessionManager over HTTP.
type SessionAPI struct {
	manager    *SessionManager
	adminToken string
}

// NewSessionAPI creates the HTTP handlers. When adminToken ("user:pass") is
// set the recover endpoint requires basic auth.
func NewSessionAPI(manager *SessionManager, adminToken string) *SessionAPI {
	return &SessionAPI{manager: manager, adminToken: adminToken}
}

// RegisterRoutes implements httpserver.RouteRegistrar.
func (a *SessionAPI) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", a.handleStart)
		r.Get("/", a.handleList)
		r.Get("/stats", a.handleStats)
		r.Get("/{id}", a.handleGet)
		r.Delete("/{id}", a.handleCancel)

		r.Group(func(r chi.Router) {
			if a.adminToken != "" {
				user, pass := parseAdminToken(a.adminToken)
				r.Use(middleware.BasicAuth("ledgermix", map[string]string{user: pass}))
			}
			r.Post("/{id}/recover", a.handleRecover)
		})
	})
}

func (a *SessionAPI) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	params, err := a.sessionParams(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := a.manager.Start(r.Context(), params)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusAccepted, rec)
}

func (a *SessionAPI) sessionParams(req *StartSessionRequest) (mixer.SessionParams, error) {
	requested, err := nanorpc.ParseAmount(req.Amount)
	if err != nil {
		return mixer.SessionParams{}, fmt.Errorf("amount: %w", err)
	}

	funding := requested
	if req.InitialAmount != "" {
		funding, err = nanorpc.ParseAmount(req.InitialAmount)
		if err != nil {
			return mixer.SessionParams{}, fmt.Errorf("initial_amount: %w", err)
		}
	}

	multiSource := a.manager.Defaults().MultiSourceFinalHop
	if req.MultiSourceFinalHop != nil {
		multiSource = *req.MultiSourceFinalHop
	}

	return mixer.SessionParams{
		ID:                  req.ID,
		Origin:              mixer.AccountID(req.Origin),
		Destination:         mixer.AccountID(req.Destination),
		RequestedAmount:     requested,
		FundingAmount:       funding,
		NumMixAccounts:      req.NumMixAccounts,
		NumRounds:           req.NumRounds,
		MultiSourceFinalHop: multiSource,
	}, nil
}

func (a *SessionAPI) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := a.manager.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if state := r.URL.Query().Get("state"); state != "" {
		filtered := records[:0]
		for _, rec := range records {
			if string(rec.State) == state {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	writeJSON(w, http.StatusOK, &SessionListResponse{
		Sessions: records,
		Active:   a.manager.Stats().Active,
	})
}

func (a *SessionAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Stats())
}

func (a *SessionAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := a.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *SessionAPI) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.manager.Cancel(r.Context(), id); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	rec, err := a.manager.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (a *SessionAPI) handleRecover(w http.ResponseWriter, r *http.Request) {
	rec, sweep, err := a.manager.Recover(r.Context(), chi.URLParam(r, "id"))
	if err != nil && sweep == nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	status := http.StatusOK
	if err != nil {
		// Partial sweep: report what was moved along with the failure.
		status = http.StatusBadGateway
		w.Header().Set("X-Recover-Error", err.Error())
	}
	writeJSON(w, status, &RecoverResponse{Session: rec, Sweep: sweep})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, mixer.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, ErrLocked),
		errors.Is(err, ErrSessionExists),
		errors.Is(err, ErrSessionActive),
		errors.Is(err, ErrSessionNotRunning),
		errors.Is(err, ErrNothingToRecover):
		return http.StatusConflict
	case errors.Is(err, ErrDraining):
		return http.StatusServiceUnavailable
	case errors.Is(err, mixer.ErrLedgerUnavailable),
		errors.Is(err, mixer.ErrNonZeroBalance),
		errors.Is(err, mixer.ErrConfirmationTimeout):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// parseAdminToken splits a "user:pass" token. A token without a colon is a
// user with an empty password.
func parseAdminToken(token string) (user, pass string) {
	idx := strings.Index(token, ":")
	if idx < 0 {
		return token, ""
	}
	return token[:idx], token[idx+1:]
}
