package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sip/config"
	"sip/core"
	"sip/storage"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IndicatorStorer interface for indicator storage
type IndicatorStorer interface {
	Create(ctx context.Context, req *core.IndicatorCreate, apiKey string) (*core.Indicator, error)
	BulkCreate(ctx context.Context, reqs []core.IndicatorCreate, apiKey string) (*storage.BulkResult, error)
	Get(ctx context.Context, id int64) (*core.Indicator, error)
	List(ctx context.Context, filters core.IndicatorFilters) ([]core.IndicatorSummary, error)
	Count(ctx context.Context, filters core.IndicatorFilters) (int64, error)
	Update(ctx context.Context, id int64, req *core.IndicatorUpdate) (*core.Indicator, error)
	Delete(ctx context.Context, id int64) error
}

// LookupStorer interface for supporting entity storage
type LookupStorer interface {
	CreateValue(ctx context.Context, kind core.LookupKind, value string) (*core.LookupValue, error)
	GetValue(ctx context.Context, kind core.LookupKind, id int64) (*core.LookupValue, error)
	ListValues(ctx context.Context, kind core.LookupKind) ([]core.LookupValue, error)
	UpdateValue(ctx context.Context, kind core.LookupKind, id int64, value string) (*core.LookupValue, error)
	DeleteValue(ctx context.Context, kind core.LookupKind, id int64) error

	CreateCampaign(ctx context.Context, name string) (*core.Campaign, error)
	GetCampaign(ctx context.Context, id int64) (*core.Campaign, error)
	ListCampaigns(ctx context.Context) ([]core.Campaign, error)
	UpdateCampaign(ctx context.Context, id int64, name string) (*core.Campaign, error)
	DeleteCampaign(ctx context.Context, id int64) error

	CreateIntelReference(ctx context.Context, spec core.ReferenceSpec, username, apiKey string) (*core.IntelReference, error)
	GetIntelReference(ctx context.Context, id int64) (*core.IntelReference, error)
	ListIntelReferences(ctx context.Context) ([]core.IntelReference, error)
	DeleteIntelReference(ctx context.Context, id int64) error

	CreateUser(ctx context.Context, username string) (*core.User, error)
	GetUser(ctx context.Context, username string) (*core.User, error)
	GetUserByAPIKey(ctx context.Context, apiKey string) (*core.User, error)
	ListUsers(ctx context.Context) ([]core.User, error)
	SetUserActive(ctx context.Context, username string, active bool) error
	DeleteUser(ctx context.Context, username string) error
}

// API holds the API server
type API struct {
	router         *mux.Router
	server         *http.Server
	indicators     IndicatorStorer
	lookups        LookupStorer
	config         *config.Config
	logger         *zap.SugaredLogger
	validate       *validator.Validate
	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
}

// NewAPI creates a new API server
func NewAPI(indicators IndicatorStorer, lookups LookupStorer, cfg *config.Config, logger *zap.SugaredLogger) *API {
	api := &API{
		router:       mux.NewRouter(),
		indicators:   indicators,
		lookups:      lookups,
		config:       cfg,
		logger:       logger,
		validate:     validator.New(),
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	api.setupRoutes()
	go api.cleanupRateLimiters()
	return api
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.rateLimitMiddleware)
	a.router.Use(a.apiKeyMiddleware)
	a.router.Use(a.metricsMiddleware)

	a.router.HandleFunc("/api/indicators", a.listIndicators).Methods("GET")
	a.router.HandleFunc("/api/indicators", a.createIndicator).Methods("POST")
	a.router.HandleFunc("/api/indicators/bulk", a.bulkCreateIndicators).Methods("POST")
	a.router.HandleFunc("/api/indicators/{id:[0-9]+}", a.getIndicator).Methods("GET")
	a.router.HandleFunc("/api/indicators/{id:[0-9]+}", a.updateIndicator).Methods("PUT")
	a.router.HandleFunc("/api/indicators/{id:[0-9]+}", a.deleteIndicator).Methods("DELETE")

	a.valueRoutes("/api/indicator/types", core.KindIndicatorType)
	a.valueRoutes("/api/indicator/confidences", core.KindIndicatorConfidence)
	a.valueRoutes("/api/indicator/impacts", core.KindIndicatorImpact)
	a.valueRoutes("/api/indicator/statuses", core.KindIndicatorStatus)
	a.valueRoutes("/api/tags", core.KindTag)
	a.valueRoutes("/api/intel/sources", core.KindIntelSource)

	a.router.HandleFunc("/api/campaigns", a.listCampaigns).Methods("GET")
	a.router.HandleFunc("/api/campaigns", a.createCampaign).Methods("POST")
	a.router.HandleFunc("/api/campaigns/{id:[0-9]+}", a.getCampaign).Methods("GET")
	a.router.HandleFunc("/api/campaigns/{id:[0-9]+}", a.updateCampaign).Methods("PUT")
	a.router.HandleFunc("/api/campaigns/{id:[0-9]+}", a.deleteCampaign).Methods("DELETE")

	a.router.HandleFunc("/api/intel/references", a.listIntelReferences).Methods("GET")
	a.router.HandleFunc("/api/intel/references", a.createIntelReference).Methods("POST")
	a.router.HandleFunc("/api/intel/references/{id:[0-9]+}", a.getIntelReference).Methods("GET")
	a.router.HandleFunc("/api/intel/references/{id:[0-9]+}", a.deleteIntelReference).Methods("DELETE")

	a.router.HandleFunc("/api/users", a.listUsers).Methods("GET")
	a.router.HandleFunc("/api/users", a.createUser).Methods("POST")
	a.router.HandleFunc("/api/users/{username}", a.getUser).Methods("GET")
	a.router.HandleFunc("/api/users/{username}", a.updateUser).Methods("PUT")
	a.router.HandleFunc("/api/users/{username}", a.deleteUser).Methods("DELETE")

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Router exposes the configured router, mainly for tests.
func (a *API) Router() http.Handler {
	return a.router
}

// Start starts the API server
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
