// Package api serves the HTTP query surface: deal queries, card lookups,
// manual refresh, the live websocket ticker, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"dealscout/internal/domain"
	"dealscout/internal/observability"
	"dealscout/internal/orchestrator"
	"dealscout/internal/publish"
	"dealscout/internal/storage"
)

const (
	defaultLimit        = 100
	maxLimit            = 500
	defaultRecentWindow = time.Hour
)

// Refresher triggers out-of-band fetch cycles and reports source health.
type Refresher interface {
	TriggerRefresh()
	Status() []orchestrator.SourceStatus
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	deals     storage.DealStore
	cards     storage.CardStore
	cache     storage.DealCache
	publisher *publish.Publisher
	refresher Refresher
	router    *chi.Mux
	upgrader  websocket.Upgrader
	now       func() time.Time
}

// Options for creating a Server. Refresher may be nil; POST /api/refresh
// then answers 503. Cache may be nil; recent-deal reads then always hit
// the durable store.
type Options struct {
	Deals     storage.DealStore
	Cards     storage.CardStore
	Cache     storage.DealCache
	Publisher *publish.Publisher
	Refresher Refresher

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewServer creates a Server with all routes configured.
func NewServer(opts Options) (*Server, error) {
	if opts.Deals == nil || opts.Cards == nil {
		return nil, errors.New("api: deal and card stores are required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("api: publisher is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{
		deals:     opts.Deals,
		cards:     opts.Cards,
		cache:     opts.Cache,
		publisher: opts.Publisher,
		refresher: opts.Refresher,
		router:    chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The ticker is read-only public data.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now: now,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", observability.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/deals", s.handleListDeals)
		r.Get("/deals/recent", s.handleRecentDeals)
		r.Get("/cards/{id}", s.handleGetCard)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/live", s.handleLive)
	})
}

// dealView is the wire shape of a deal. Pence fields are kept as integers;
// clients format currency.
type dealView struct {
	DealID            string   `json:"deal_id"`
	Platform          string   `json:"platform"`
	ExternalID        string   `json:"external_id"`
	URL               string   `json:"url"`
	Title             string   `json:"title"`
	CardID            string   `json:"card_id,omitempty"`
	Condition         string   `json:"condition,omitempty"`
	PriceP            int64    `json:"price_pence"`
	ShippingP         int64    `json:"shipping_pence"`
	FeeP              int64    `json:"fee_pence"`
	TotalCostP        int64    `json:"total_cost_pence"`
	MarketValueP      *int64   `json:"market_value_pence,omitempty"`
	Score             *float64 `json:"score,omitempty"`
	FallbackValuation bool     `json:"fallback_valuation,omitempty"`
	SellerName        string   `json:"seller_name,omitempty"`
	ImageURL          string   `json:"image_url,omitempty"`
	BuyNow            bool     `json:"buy_now"`
	IsActive          bool     `json:"is_active"`
	FoundAt           int64    `json:"found_at"`
	LastSeenAt        int64    `json:"last_seen_at"`
}

func toView(d *domain.Deal) dealView {
	return dealView{
		DealID:            d.DealID,
		Platform:          string(d.Platform),
		ExternalID:        d.ExternalID,
		URL:               d.URL,
		Title:             d.Title,
		CardID:            d.CardID,
		Condition:         string(d.Condition),
		PriceP:            d.PriceP,
		ShippingP:         d.ShippingP,
		FeeP:              d.FeeP,
		TotalCostP:        d.TotalCostP,
		MarketValueP:      d.MarketValueP,
		Score:             d.Score,
		FallbackValuation: d.FallbackValuation,
		SellerName:        d.SellerName,
		ImageURL:          d.ImageURL,
		BuyNow:            d.BuyNow,
		IsActive:          d.IsActive,
		FoundAt:           d.FoundAt,
		LastSeenAt:        d.LastSeenAt,
	}
}

// handleListDeals answers GET /api/deals with filters: platform, condition,
// era, min_price, max_price (pence), min_score, limit. Results come back
// score descending with unscored deals last.
func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.DealFilter{ActiveOnly: true, Limit: defaultLimit}

	if v := q.Get("platform"); v != "" {
		p := domain.Platform(v)
		if !p.IsValid() {
			writeError(w, http.StatusBadRequest, "unknown platform %q", v)
			return
		}
		filter.Platform = &p
	}
	if v := q.Get("condition"); v != "" {
		c := domain.Condition(strings.ToUpper(v))
		if !c.IsValid() {
			writeError(w, http.StatusBadRequest, "unknown condition %q", v)
			return
		}
		filter.Condition = &c
	}
	if v := q.Get("min_price"); v != "" {
		p, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad min_price")
			return
		}
		filter.MinPriceP = &p
	}
	if v := q.Get("max_price"); v != "" {
		p, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad max_price")
			return
		}
		filter.MaxPriceP = &p
	}
	if v := q.Get("min_score"); v != "" {
		sc, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad min_score")
			return
		}
		filter.MinScore = &sc
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		filter.Limit = n
	}
	if v := q.Get("era"); v != "" {
		sets, ok := domain.SetEras[domain.Era(v)]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown era %q", v)
			return
		}
		cards, err := s.cards.GetBySetNames(r.Context(), sets)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "card lookup failed")
			return
		}
		if len(cards) == 0 {
			s.writeDeals(w, nil)
			return
		}
		ids := make([]string, 0, len(cards))
		for _, c := range cards {
			ids = append(ids, c.ID)
		}
		filter.CardIDs = ids
	}

	deals, err := s.deals.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "deal query failed")
		return
	}
	s.writeDeals(w, deals)
}

// handleRecentDeals answers GET /api/deals/recent?window=15m.
func (s *Server) handleRecentDeals(w http.ResponseWriter, r *http.Request) {
	window := defaultRecentWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "bad window %q", v)
			return
		}
		window = d
	}
	since := s.now().Add(-window).UnixMilli()
	if deals, ok := s.recentFromCache(r.Context(), since); ok {
		s.writeDeals(w, deals)
		return
	}
	deals, err := s.deals.RecentWithin(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "deal query failed")
		return
	}
	s.writeDeals(w, deals)
}

// recentFromCache serves the recent-deals hot path from the cache. Returns
// ok=false on a miss or any cache error; the caller falls back to the store.
func (s *Server) recentFromCache(ctx context.Context, sinceMs int64) ([]*domain.Deal, bool) {
	if s.cache == nil {
		return nil, false
	}
	ids, err := s.cache.RecentSince(ctx, sinceMs, maxLimit)
	if err != nil || len(ids) == 0 {
		if err != nil {
			observability.DefaultMetrics.CacheErrors.WithLabelValues("read").Inc()
		}
		return nil, false
	}
	deals := make([]*domain.Deal, 0, len(ids))
	for _, id := range ids {
		d, err := s.cache.GetDeal(ctx, id)
		if err != nil {
			observability.DefaultMetrics.CacheErrors.WithLabelValues("read").Inc()
			return nil, false
		}
		if d == nil {
			// Snapshot expired under its ranking entry; skip it.
			continue
		}
		deals = append(deals, d)
	}
	return deals, true
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	card, err := s.cards.GetByID(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "card %q not found", id)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "card lookup failed")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"id":          card.ID,
			"name":        card.Name,
			"set_id":      card.SetID,
			"set_name":    card.SetName,
			"number":      card.Number,
			"rarity":      card.Rarity,
			"era":         string(domain.EraOf(card.SetName)),
			"image_small": card.ImageSmall,
			"image_large": card.ImageLarge,
			"updated_at":  card.UpdatedAt,
		})
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not available")
		return
	}
	s.refresher.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh triggered"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"time":   s.now().UnixMilli(),
	}
	if s.refresher != nil {
		body["sources"] = s.refresher.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleLive upgrades to a websocket and streams every published deal until
// the client goes away.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	deals, cancel := s.publisher.Subscribe()
	defer cancel()

	// Drain client frames so pings and closes are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for d := range deals {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(toView(d)); err != nil {
			return
		}
	}
}

func (s *Server) writeDeals(w http.ResponseWriter, deals []*domain.Deal) {
	views := make([]dealView, 0, len(deals))
	var lastUpdated int64
	for _, d := range deals {
		views = append(views, toView(d))
		if d.LastSeenAt > lastUpdated {
			lastUpdated = d.LastSeenAt
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deals":        views,
		"count":        len(views),
		"last_updated": lastUpdated,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[api] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf(format, args...)})
}
