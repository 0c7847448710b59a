package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/app/syncer/apr"
	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/store"
	"github.com/beetslabs/poolsync/pkg/metrics"
	"github.com/beetslabs/poolsync/pkg/redis"
	"github.com/beetslabs/poolsync/pkg/utils"
)

// chainHeader carries the default chain when a request omits the explicit
// query argument.
const chainHeader = "X-Chain-Id"

// SyncTrigger runs one sync pass for one chain and returns the rows written.
type SyncTrigger func(ctx context.Context, cfg chain.Config) (int, error)

// Controller owns the HTTP surface: public read-through endpoints plus
// admin-gated sync triggers.
type Controller struct {
	Logger   *zap.Logger
	DB       *store.DB
	Registry *chain.Registry
	Redis    *redis.Client
	Aprs     *apr.Registry

	// Triggers maps a sync category to its entry point. Admin endpoints report
	// aggregate per-chain success/failure, never a raw internal error.
	Triggers map[chain.Category]SyncTrigger

	apiKey     string
	supplyURLs map[string]string
	httpClient *http.Client
}

func NewController(logger *zap.Logger, db *store.DB, registry *chain.Registry, rdb *redis.Client, aprs *apr.Registry, triggers map[chain.Category]SyncTrigger) *Controller {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.Logger = nil

	return &Controller{
		Logger:   logger,
		DB:       db,
		Registry: registry,
		Redis:    rdb,
		Aprs:     aprs,
		Triggers: triggers,
		apiKey:   utils.Env("ADMIN_API_KEY", ""),
		supplyURLs: map[string]string{
			"default": utils.Env("CIRCULATING_SUPPLY_URL", ""),
			"sonic":   utils.Env("CIRCULATING_SUPPLY_SONIC_URL", ""),
		},
		httpClient: retryClient.StandardClient(),
	}
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", c.HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/circulating_supply", c.HandleCirculatingSupply("default")).Methods(http.MethodGet)
	r.HandleFunc("/circulating_supply_sonic", c.HandleCirculatingSupply("sonic")).Methods(http.MethodGet)

	r.HandleFunc("/protocol/metrics", c.HandleProtocolMetrics).Methods(http.MethodGet)
	r.HandleFunc("/aprs", c.HandleAprs).Methods(http.MethodGet)

	r.Handle("/admin/sync/{category}", c.RequireAPIKey(http.HandlerFunc(c.HandleTriggerSync))).Methods(http.MethodPost)

	r.HandleFunc("/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r
}

// RequireAPIKey gates admin mutations behind the configured API key header.
func (c *Controller) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.apiKey == "" || r.Header.Get("X-Api-Key") != c.apiKey {
			writeError(w, http.StatusForbidden, "access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if c.Redis != nil {
		if err := c.Redis.Health(r.Context()); err != nil {
			status["redis"] = "unavailable"
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleCirculatingSupply is a read-through proxy to the upstream supply
// endpoint, returning the plain-number body supply trackers expect.
func (c *Controller) HandleCirculatingSupply(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url := c.supplyURLs[key]
		if url == "" {
			writeError(w, http.StatusNotFound, "supply endpoint not configured")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.Logger.Error("Circulating supply upstream failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, "upstream unavailable")
			return
		}
		defer resp.Body.Close()

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, io.LimitReader(resp.Body, 1<<16))
	}
}

// protocolMetricsTTL bounds how stale the cached aggregate may get. The cache
// is never authoritative; a miss or a Redis failure falls through to the DB.
const protocolMetricsTTL = 30 * time.Second

func (c *Controller) HandleProtocolMetrics(w http.ResponseWriter, r *http.Request) {
	ch, err := c.resolveChain(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cacheKey := "poolsync:protocol_metrics:" + string(ch)
	if c.Redis != nil {
		if cached, ok := c.Redis.GetCached(r.Context(), cacheKey); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, cached)
			return
		}
	}

	m, err := c.DB.GetProtocolMetrics(r.Context(), ch)
	if err != nil {
		c.Logger.Error("Failed to load protocol metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if c.Redis != nil {
		if body, err := json.Marshal(m); err == nil {
			c.Redis.SetCached(r.Context(), cacheKey, body, protocolMetricsTTL)
		}
	}
	writeJSON(w, http.StatusOK, m)
}

func (c *Controller) HandleAprs(w http.ResponseWriter, r *http.Request) {
	ch, err := c.resolveChain(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c.Aprs.Collect(r.Context(), ch))
}

// syncResult is the per-chain outcome of an admin-triggered sync.
type syncResult struct {
	Chain   chain.Chain `json:"chain"`
	Rows    int         `json:"rows"`
	Success bool        `json:"success"`
}

// HandleTriggerSync runs one category's sync for the requested chain, or for
// every chain when none is given. Internal errors are reported as per-chain
// failure flags, never as raw error bodies.
func (c *Controller) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	category := chain.Category(strings.ToUpper(mux.Vars(r)["category"]))
	trigger, ok := c.Triggers[category]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown sync category")
		return
	}

	var configs []chain.Config
	if raw := chainArg(r); raw != "" {
		ch, err := chain.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg, err := c.Registry.Get(ch)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		configs = []chain.Config{cfg}
	} else {
		configs = c.Registry.All()
	}

	results := make([]syncResult, 0, len(configs))
	for _, cfg := range configs {
		rows, err := trigger(r.Context(), cfg)
		if err != nil {
			c.Logger.Error("Admin-triggered sync failed",
				zap.String("chain", string(cfg.Chain)),
				zap.String("category", string(category)),
				zap.Error(err))
			results = append(results, syncResult{Chain: cfg.Chain, Success: false})
			continue
		}
		results = append(results, syncResult{Chain: cfg.Chain, Rows: rows, Success: true})
	}

	writeJSON(w, http.StatusOK, results)
}

// resolveChain reads the chain from the query argument, falling back to the
// request header, and validates it.
func (c *Controller) resolveChain(r *http.Request) (chain.Chain, error) {
	return chain.Parse(chainArg(r))
}

func chainArg(r *http.Request) string {
	if arg := r.URL.Query().Get("chain"); arg != "" {
		return arg
	}
	return r.Header.Get(chainHeader)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
