// Package handler exposes the ledger services over HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan9191/bank-ledger/internal/auth"
	"github.com/Dan9191/bank-ledger/internal/middleware"
	"github.com/Dan9191/bank-ledger/internal/models"
	"github.com/Dan9191/bank-ledger/internal/repository"
	"github.com/Dan9191/bank-ledger/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	store      repository.Store
	identities *service.IdentityService
	ledger     *service.LedgerService
	savings    *service.SavingsService
	engine     *service.AccrualEngine
	log        *logrus.Logger
	now        func() time.Time
}

func NewHandler(store repository.Store, identities *service.IdentityService, ledger *service.LedgerService,
	savings *service.SavingsService, engine *service.AccrualEngine, log *logrus.Logger) *Handler {
	return &Handler{
		store:      store,
		identities: identities,
		ledger:     ledger,
		savings:    savings,
		engine:     engine,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type openSavingsRequest struct {
	ProductID string `json:"product_id"`
	Amount    int64  `json:"amount"`
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return models.Errorf(models.KindInvalidRequest, "invalid JSON body")
	}
	return nil
}

// Health pings storage.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		middleware.WriteError(w, models.Unavailable(err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Register handles identity registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	identity, err := h.identities.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, identity)
}

// Login handles authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	token, err := h.identities.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Products lists the active savings catalog.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	products, err := h.savings.Products(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, products)
}

// Account returns the caller's spendable balance.
func (h *Handler) Account(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.Balance(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, account)
}

// Transactions returns the caller's recent ledger entries.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			middleware.WriteError(w, models.Errorf(models.KindInvalidRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := h.ledger.History(r.Context(), auth.FromContext(r.Context()), limit)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	middleware.WriteJSON(w, http.StatusOK, entries)
}

// Transfer moves funds from the caller to another identity.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req service.TransferRequest
	if err := decode(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	res, err := h.ledger.Transfer(r.Context(), auth.FromContext(r.Context()), req)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// OpenSavings opens a savings account funded from the caller's balance.
func (h *Handler) OpenSavings(w http.ResponseWriter, r *http.Request) {
	var req openSavingsRequest
	if err := decode(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	sa, err := h.savings.Open(r.Context(), auth.FromContext(r.Context()), req.ProductID, req.Amount)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, sa)
}

// ListSavings lists the caller's savings accounts.
func (h *Handler) ListSavings(w http.ResponseWriter, r *http.Request) {
	list, err := h.savings.List(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, list)
}

// GetSavings returns one of the caller's savings accounts.
func (h *Handler) GetSavings(w http.ResponseWriter, r *http.Request) {
	sa, err := h.savings.Get(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sa)
}

// WithdrawSavings pays out a matured savings account.
func (h *Handler) WithdrawSavings(w http.ResponseWriter, r *http.Request) {
	res, err := h.savings.Withdraw(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// RunAccrual triggers an accrual run. as_of accepts RFC 3339 or a plain
// date (midnight UTC) and defaults to now. Runs with failures answer 207.
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	asOf := now
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := parseAsOf(raw)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		if parsed.After(now) {
			middleware.WriteError(w, models.Errorf(models.KindInvalidRequest, "as_of cannot be in the future"))
			return
		}
		asOf = parsed
	}

	run, err := h.engine.Run(r.Context(), asOf)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if run.Err() != nil {
		status = http.StatusMultiStatus
	}
	middleware.WriteJSON(w, status, run)
}

func parseAsOf(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, models.Errorf(models.KindInvalidRequest, "as_of must be RFC 3339 or YYYY-MM-DD")
}

// RunSweep triggers a maturity sweep.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	matured, err := h.savings.Sweep(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"matured": len(matured), "accounts": matured})
}
