package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"greenledger/native/bridge"
	"greenledger/native/collateral"
	"greenledger/native/oracle"
	"greenledger/native/stable"
	"greenledger/native/system"
	"greenledger/observability/metrics"
)

// Options wire the gateway to the node's modules.
type Options struct {
	StableEngine *stable.Engine
	BridgeEngine *bridge.Engine
	Registry     *collateral.Registry
	Feed         *oracle.SignedFeed
	Roles        *system.Roles
	Pauses       *system.Pauses
	JWTSecret    []byte
	RateLimitRPS int
	RateBurst    int
	Logger       *slog.Logger
}

// Server is the HTTP surface over the native modules.
type Server struct {
	router        chi.Router
	stable        *stable.Engine
	bridge        *bridge.Engine
	registry      *collateral.Registry
	feed          *oracle.SignedFeed
	roles         *system.Roles
	pauses        *system.Pauses
	jwtSecret     []byte
	limiter       *clientLimiter
	logger        *slog.Logger
	stableMetrics *metrics.Stable
	bridgeMetrics *metrics.Bridge
}

// NewServer builds the router. Read endpoints are public behind the rate
// limiter; mutations require a bearer token and the admin tree additionally
// requires a role.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:        chi.NewRouter(),
		stable:        opts.StableEngine,
		bridge:        opts.BridgeEngine,
		registry:      opts.Registry,
		feed:          opts.Feed,
		roles:         opts.Roles,
		pauses:        opts.Pauses,
		jwtSecret:     opts.JWTSecret,
		limiter:       newClientLimiter(opts.RateLimitRPS, opts.RateBurst),
		logger:        logger,
		stableMetrics: metrics.StableMetrics(),
		bridgeMetrics: metrics.BridgeMetrics(),
	}
	s.routes()
	return s
}

// Router returns the assembled handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimit)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/assets", s.handleListAssets)
		r.Get("/assets/{assetID}", s.handleGetAsset)
		r.Get("/assets/{assetID}/audit", s.handleAssetAudit)
		r.Get("/positions/{assetID}/{address}", s.handleGetPosition)
		r.Get("/bridge/txs", s.handleListBridgeTxs)
		r.Get("/bridge/txs/{txID}", s.handleGetBridgeTx)
		r.Get("/bridge/export", s.handleExportBridgeTxs)
		r.Get("/bridge/validators", s.handleListValidators)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/stable/deposit", s.handleDeposit)
			r.Post("/stable/withdraw", s.handleWithdraw)
			r.Post("/stable/mint", s.handleMint)
			r.Post("/stable/repay", s.handleRepay)
			r.Post("/stable/liquidate", s.handleLiquidate)
			r.Post("/bridge/initiate", s.handleBridgeInitiate)
			r.Post("/bridge/complete", s.handleBridgeComplete)
			r.Post("/bridge/cancel", s.handleBridgeCancel)
			r.Post("/oracle/submit", s.handleOracleSubmit)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.authenticate)
			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(system.RoleAdmin))
				r.Post("/assets", s.handleRegisterAsset)
				r.Post("/assets/{assetID}/status", s.handleSetAssetStatus)
				r.Post("/validators/add", s.handleAddValidator)
				r.Post("/validators/remove", s.handleRemoveValidator)
				r.Post("/validators/threshold", s.handleSetThreshold)
				r.Post("/fees/withdraw", s.handleWithdrawFees)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(system.RoleGuardian))
				r.Post("/pause", s.handlePause)
				r.Post("/bridge/force-cancel", s.handleForceCancel)
			})
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
