package handler

import (
	"net/http"
	"time"

	"github.com/Dan9191/bank-ledger/internal/auth"
	"github.com/Dan9191/bank-ledger/internal/middleware"
	"github.com/Dan9191/bank-ledger/internal/models"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every route behind the logging and timeout middleware.
func NewRouter(h *Handler, gate *auth.Gate, log *logrus.Logger, requestTimeout time.Duration) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(log), middleware.TimeoutMiddleware(requestTimeout))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, models.Errorf(models.KindNotFound, "no such route"))
	})

	// Public routes
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/products", h.Products).Methods(http.MethodGet)

	// Operator routes
	adminRouter := r.PathPrefix("/admin").Subrouter()
	adminRouter.Use(middleware.OperatorMiddleware(gate))
	adminRouter.HandleFunc("/accrual", h.RunAccrual).Methods(http.MethodPost)
	adminRouter.HandleFunc("/sweep", h.RunSweep).Methods(http.MethodPost)

	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(gate))
	authRouter.HandleFunc("/accounts/me", h.Account).Methods(http.MethodGet)
	authRouter.HandleFunc("/transactions", h.Transactions).Methods(http.MethodGet)
	authRouter.HandleFunc("/transfer", h.Transfer).Methods(http.MethodPost)
	authRouter.HandleFunc("/savings", h.ListSavings).Methods(http.MethodGet)
	authRouter.HandleFunc("/savings", h.OpenSavings).Methods(http.MethodPost)
	authRouter.HandleFunc("/savings/{id}", h.GetSavings).Methods(http.MethodGet)
	authRouter.HandleFunc("/savings/{id}/withdraw", h.WithdrawSavings).Methods(http.MethodPost)

	return r
}
