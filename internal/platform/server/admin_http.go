package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/auth"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/ledger"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

type AccountVerifier interface {
	VerifyAccount(ctx context.Context, key store.AccountKey) (ledger.Verification, error)
}

type OutboxRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

// AdminHandler serves the operator endpoints under /v1/admin. The remote
// access guard decides who may reach them at the network level; the policy
// decides at the actor level.
type AdminHandler struct {
	Ledger    AccountVerifier
	Outbox    store.OutboxStore
	Publisher OutboxRunner
	Guard     *RemoteAccessGuard
	Policy    auth.Policy
	Log       *zap.Logger
}

func (h AdminHandler) Register(r chi.Router) {
	r.Route(adminPathPrefix, func(ar chi.Router) {
		ar.Use(h.requireOperator)
		ar.Get("/outbox", h.outboxStats)
		ar.Post("/outbox:publish", h.publishOutbox)
		ar.Get("/ledger/accounts/verify", h.verifyAccount)
		ar.Get("/remote-access", h.remoteAccess)
	})
}

func (h AdminHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h AdminHandler) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.Policy.CanAdminister(r.Context()); err != nil {
			h.logger().Warn("admin call denied", zap.String("path", r.URL.Path), zap.String("actor", actorLabel(r.Context())))
			writeAdminJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h AdminHandler) outboxStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Outbox.OutboxStats(r.Context())
	if err != nil {
		h.fail(w, "outbox stats", err)
		return
	}
	out := map[string]any{
		"pending":     st.Pending,
		"published":   st.Published,
		"maxAttempts": st.MaxAttempts,
	}
	if st.OldestPending != nil {
		out["oldestPending"] = st.OldestPending.UTC().Format(time.RFC3339Nano)
	}
	writeAdminJSON(w, http.StatusOK, out)
}

func (h AdminHandler) publishOutbox(w http.ResponseWriter, r *http.Request) {
	if h.Publisher == nil {
		writeAdminJSON(w, http.StatusNotImplemented, map[string]string{"error": "publisher not configured"})
		return
	}
	n, err := h.Publisher.RunOnce(r.Context())
	if err != nil {
		h.fail(w, "outbox publish", err)
		return
	}
	writeAdminJSON(w, http.StatusOK, map[string]int{"published": n})
}

func (h AdminHandler) verifyAccount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := store.AccountKey{
		PlayerID: q.Get("player_id"),
		Asset:    store.CurrencyNetwork{Currency: q.Get("currency"), Network: q.Get("network")},
		Type:     store.AccountType(strings.ToUpper(q.Get("type"))),
	}
	if key.Type == "" {
		key.Type = store.AccountMain
	}
	if key.PlayerID == "" || key.Asset.Currency == "" || key.Asset.Network == "" || !key.Type.Valid() {
		writeAdminJSON(w, http.StatusBadRequest, map[string]string{"error": "player_id, currency, network and a valid type are required"})
		return
	}
	v, err := h.Ledger.VerifyAccount(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		writeAdminJSON(w, http.StatusNotFound, map[string]string{"error": "account not found"})
		return
	}
	if err != nil {
		h.fail(w, "verify account", err)
		return
	}
	if !v.OK {
		h.logger().Error("ledger projection drift", zap.Int64("account_id", v.AccountID), zap.Stringer("projected", v.Projected), zap.Stringer("recomputed", v.Recomputed))
	}
	writeAdminJSON(w, http.StatusOK, v)
}

func (h AdminHandler) remoteAccess(w http.ResponseWriter, _ *http.Request) {
	if h.Guard == nil {
		writeAdminJSON(w, http.StatusOK, []RemoteAccessActivity{})
		return
	}
	writeAdminJSON(w, http.StatusOK, h.Guard.Activities())
}

func (h AdminHandler) fail(w http.ResponseWriter, op string, err error) {
	h.logger().Error("admin "+op+" failed", zap.Error(err))
	writeAdminJSON(w, http.StatusInternalServerError, map[string]string{"error": op + " failed"})
}

func writeAdminJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
