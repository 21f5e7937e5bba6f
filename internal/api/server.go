package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	gocache "github.com/patrickmn/go-cache"

	"wasmscan/internal/compute"
	"wasmscan/internal/config"
	"wasmscan/internal/eventbus"
	"wasmscan/internal/models"
)

// Store is the read and memo surface the compute handlers need. The
// repository satisfies it.
type Store interface {
	compute.EventStore
	compute.ComputationStore
}

// AccountStore resolves API keys to accounts and settles credit charges.
type AccountStore interface {
	GetAccountByKeyHash(ctx context.Context, keyHash string) (*models.Account, error)
	CreateAccount(ctx context.Context, id, name, keyHash string, credits int64) (*models.Account, error)
	ChargeCredits(ctx context.Context, accountID string, amount int64, endpoint string) (int64, error)
	AddCredits(ctx context.Context, accountID string, amount int64) (int64, error)
}

// WebhookStore is the subscription CRUD surface behind /webhooks.
type WebhookStore interface {
	CreateWebhookSubscription(ctx context.Context, s *models.WebhookSubscription) error
	GetWebhookSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error)
	ListWebhookSubscriptionsByAccount(ctx context.Context, accountID string) ([]*models.WebhookSubscription, error)
	SetWebhookSubscriptionActive(ctx context.Context, id, accountID string, active bool) (bool, error)
	DeleteWebhookSubscription(ctx context.Context, id, accountID string) (bool, error)
}

// TipSource yields the poller's chain state snapshot, nil before the
// first successful poll.
type TipSource interface {
	Current() *models.State
}

type Server struct {
	cfg      *config.Config
	store    Store
	accounts AccountStore
	webhooks WebhookStore
	registry *compute.Registry
	tip      TipSource

	accountCache *gocache.Cache
	limiter      *ipLimiter
	hub          *Hub

	httpServer *http.Server
}

// NewServer assembles the router and middleware chain. When bus is
// non-nil the websocket hub relays block advances to connected clients.
func NewServer(cfg *config.Config, store Store, accounts AccountStore, webhooks WebhookStore,
	registry *compute.Registry, tip TipSource, bus *eventbus.Bus) *Server {

	s := &Server{
		cfg:          cfg,
		store:        store,
		accounts:     accounts,
		webhooks:     webhooks,
		registry:     registry,
		tip:          tip,
		accountCache: gocache.New(time.Minute, 5*time.Minute),
		limiter:      newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		hub:          newHub(),
	}

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/formulas", s.handleFormulas).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket)

	cr := r.PathPrefix("/compute").Subrouter()
	cr.Use(s.apiKeyMiddleware)
	cr.HandleFunc("/{type}/{address}/{formula:.+}", s.handleCompute).Methods("GET")

	wh := r.PathPrefix("/webhooks").Subrouter()
	wh.Use(s.requireAccountMiddleware)
	wh.HandleFunc("", s.handleCreateWebhook).Methods("POST")
	wh.HandleFunc("", s.handleListWebhooks).Methods("GET")
	wh.HandleFunc("/{id}", s.handleDeleteWebhook).Methods("DELETE")
	wh.HandleFunc("/{id}/active", s.handleSetWebhookActive).Methods("POST")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.adminAuthMiddleware)
	admin.HandleFunc("/accounts", s.handleCreateAccount).Methods("POST")
	admin.HandleFunc("/accounts/{id}/credits", s.handleAddCredits).Methods("POST")

	s.httpServer = &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go s.hub.run()
	if bus != nil {
		ch := make(chan eventbus.Event, 16)
		bus.Subscribe(eventbus.TypeBlockAdvance, ch)
		go s.forwardBlockEvents(ch)
	}

	return s
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
