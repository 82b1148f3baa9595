package routes

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"loanchain/core/events"
	"loanchain/core/node"
	"loanchain/crypto"
	"loanchain/gateway/middleware"
	"loanchain/native/loans"
	"loanchain/native/oracle"
)

// LoanService is the node surface the HTTP API drives.
type LoanService interface {
	Apply(owner crypto.Address, collateral, loan *big.Int) (*loans.Loan, error)
	Repay(owner crypto.Address, id loans.LoanID) (*loans.Loan, error)
	AddCollateral(caller crypto.Address, id loans.LoanID, amount *big.Int) (*loans.Loan, error)
	Draw(owner crypto.Address, id loans.LoanID, amount *big.Int) (*loans.Loan, error)
	MarkLiquidated(caller crypto.Address, id loans.LoanID, auction *big.Int) (*loans.Loan, error)
	Loan(id loans.LoanID) (*loans.Loan, error)
	LoansByOwner(owner crypto.Address) ([]*loans.Loan, error)
	Stats() (node.Stats, error)
	Pause(caller crypto.Address) error
	Resume(caller crypto.Address) error
	SetParam(caller crypto.Address, name, value string) error
	SubmitPrice(caller crypto.Address, price uint64) error
	LatestQuote() (oracle.Quote, error)
	Events(limit int) []events.Record
}

type Config struct {
	Service       LoanService
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
	// ServiceName names the server spans.
	ServiceName string
}

func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	h := &handlers{svc: cfg.Service, logger: logger}
	r.Group(func(api chi.Router) {
		if cfg.Authenticator != nil {
			api.Use(cfg.Authenticator.Middleware)
		}
		if cfg.RateLimiter != nil {
			api.Use(cfg.RateLimiter.Middleware)
		}

		api.Route("/loans", func(lr chi.Router) {
			lr.Post("/", h.apply)
			lr.Get("/{id}", h.getLoan)
			lr.Post("/{id}/repay", h.repay)
			lr.Post("/{id}/collateral", h.addCollateral)
			lr.Post("/{id}/draw", h.draw)
			lr.Post("/{id}/liquidate", h.liquidate)
		})
		api.Get("/accounts/{address}/loans", h.loansByOwner)
		api.Get("/stats", h.stats)
		api.Get("/events", h.events)

		api.Route("/admin", func(ar chi.Router) {
			ar.Post("/pause", h.pause)
			ar.Post("/resume", h.resume)
			ar.Put("/params/{name}", h.setParam)
		})
		api.Route("/oracle", func(or chi.Router) {
			or.Post("/price", h.submitPrice)
			or.Get("/price", h.latestPrice)
		})
	})

	name := cfg.ServiceName
	if name == "" {
		name = "loand"
	}
	return otelhttp.NewHandler(r, name)
}
