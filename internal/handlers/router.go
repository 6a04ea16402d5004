package handlers

import (
	"net/http"

	"pos/internal/config"
	"pos/internal/db"
	"pos/internal/idempotency"
	"pos/internal/middleware"
	"pos/internal/store"
	"pos/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ulule/limiter/v3"
)

type Handler struct {
	cfg      config.Config
	txRunner db.TxRunner
	pinger   Pinger
	users    UserStore
	admin    AdminStore
	audit    AuditStore
	rates    RateService
	hub      *websocket.Hub
	idem     idempotency.Store
	limiter  *limiter.Limiter
}

// New wires the HTTP layer. idem and rateLimiter may be nil: without them
// POST /rates is neither deduplicated nor throttled.
func New(cfg config.Config, txRunner db.TxRunner, pinger Pinger, users UserStore, admin AdminStore, audit AuditStore, rates RateService, hub *websocket.Hub, idem idempotency.Store, rateLimiter *limiter.Limiter) *Handler {
	if idem == nil {
		idem = idempotency.Noop{}
	}
	if hub == nil {
		hub = websocket.NewHub()
	}
	return &Handler{
		cfg:      cfg,
		txRunner: txRunner,
		pinger:   pinger,
		users:    users,
		admin:    admin,
		audit:    audit,
		rates:    rates,
		hub:      hub,
		idem:     idem,
		limiter:  rateLimiter,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestLogger)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Idempotency-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authed := middleware.Auth(h.cfg.JWTSecret)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(authed).Get("/me", h.Me)
	})

	router.Route("/rates", func(r chi.Router) {
		r.Get("/", h.ListRates)
		r.Get("/current", h.GetCurrentRate)
		r.Get("/history", h.GetRateHistory)
		r.Get("/convert", h.ConvertAmount)
		r.With(authed, middleware.RequireAdmin(h.admin, store.RoleSetRates), h.throttle).Post("/", h.SetRate)
	})
	router.Get("/ws/rates", h.WSRates)

	router.Route("/admin", func(r chi.Router) {
		r.Use(authed)
		r.With(middleware.RequireAdmin(h.admin, store.RoleRepairRates)).Post("/rates/repair", h.RepairRate)
		r.With(middleware.SuperOnly(h.admin)).Post("/rates/repair-all", h.RepairAllRates)
		r.With(middleware.RequireAdmin(h.admin, store.RoleRepairRates)).Get("/rates/violations", h.RateViolations)
		r.With(middleware.RequireAdmin(h.admin, store.RoleViewAudit)).Get("/audit", h.ListAuditLogs)
		r.With(middleware.SuperOnly(h.admin)).Post("/promote", h.PromoteAdmin)
		r.With(middleware.SuperOnly(h.admin)).Post("/roles/grant", h.GrantRole)
	})

	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
	return router
}

func (h *Handler) throttle(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return middleware.RateLimit(h.limiter)(next)
}
