// Package api is the operator surface of a running maker: read-only
// snapshots of books, positions and orders, cooldown management, metrics and
// a websocket decision feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/polymaker/pkg/engine"
	"github.com/uhyunpark/polymaker/pkg/market"
	"github.com/uhyunpark/polymaker/pkg/metrics"
	"github.com/uhyunpark/polymaker/pkg/risk"
	"github.com/uhyunpark/polymaker/pkg/trader"
)

// DecisionJournal serves recent decisions, newest first.
type DecisionJournal interface {
	RecentDecisions(limit int) ([]trader.Decision, error)
}

const defaultDecisionLimit = 100

type Options struct {
	Journal        DecisionJournal
	Metrics        *metrics.Metrics
	Log            *zap.SugaredLogger
	AllowedOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine  *engine.Engine
	journal DecisionJournal
	metrics *metrics.Metrics
	origins []string
	router  *mux.Router
	hub     *Hub
	log     *zap.SugaredLogger
}

func NewServer(eng *engine.Engine, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}

	s := &Server{
		engine:  eng,
		journal: opts.Journal,
		metrics: opts.Metrics,
		origins: origins,
		router:  mux.NewRouter(),
		hub:     NewHub(log.Named("ws")),
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{id}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{id}/cooldown", s.handleGetCooldown).Methods("GET")
	api.HandleFunc("/markets/{id}/cooldown", s.handleClearCooldown).Methods("DELETE")
	api.HandleFunc("/books/{asset}", s.handleGetBook).Methods("GET")

	// Account state
	api.HandleFunc("/positions", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/decisions", s.handleGetDecisions).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx ends.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_server_starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) marketInfo(m *market.Market) MarketInfo {
	state, _, err := s.engine.Risk.State(m.ConditionID)
	if err != nil {
		s.log.Warnw("cooldown_read_failed", "market", m.ConditionID, "error", err)
	}
	return MarketInfo{
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Token1:      m.Token1,
		Token2:      m.Token2,
		Answer1:     m.Answer1,
		Answer2:     m.Answer2,
		TickSize:    m.TickSize,
		MinSize:     m.MinSize,
		TradeSize:   m.TradeSize,
		MaxSize:     m.EffectiveMaxSize(),
		MaxSpread:   m.MaxSpread,
		NegRisk:     m.NegRisk,
		ParamType:   m.ParamType,
		State:       state.String(),
	}
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.engine.Registry.List()
	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = s.marketInfo(m)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.Registry.Get(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	respondJSON(w, s.marketInfo(m))
}

func (s *Server) handleGetCooldown(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.engine.Registry.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}

	state, c, err := s.engine.Risk.State(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read cooldown", err.Error())
		return
	}
	info := CooldownInfo{ConditionID: id, Active: state == risk.RiskOff}
	if c != nil {
		info.Message = c.Message
		info.Time = c.Time
		info.SleepTill = c.SleepTill
	}
	respondJSON(w, info)
}

// handleClearCooldown lifts a risk-off period early and schedules a pass so
// quoting resumes without waiting for the next book event.
func (s *Server) handleClearCooldown(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.engine.Registry.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	if err := s.engine.Risk.Clear(id); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to clear cooldown", err.Error())
		return
	}
	s.log.Infow("cooldown_cleared_by_operator", "market", id)
	s.engine.Coordinator.Trigger(id)
	respondJSON(w, CooldownInfo{ConditionID: id, Active: false})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]

	bids, asks, ok := s.engine.Books.Sides(asset)
	if !ok {
		respondError(w, http.StatusNotFound, "book not found", "no snapshot received for "+asset)
		return
	}
	response := BookSnapshot{Asset: asset, Bids: bids, Asks: asks}
	if at, ok := s.engine.Books.UpdatedAt(asset); ok {
		response.Timestamp = at.UnixMilli()
	}
	respondJSON(w, response)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	snapshot := s.engine.Positions.Snapshot()

	positions := make([]PositionInfo, 0, len(snapshot))
	for token, pos := range snapshot {
		if pos.Size == 0 {
			continue // Skip closed positions
		}
		info := PositionInfo{Token: token, Size: pos.Size, AvgPrice: pos.AvgPrice, Updated: pos.Updated}
		if m, ok := s.engine.Registry.ForToken(token); ok {
			info.Market = m.ConditionID
			if o, ok := m.OutcomeOf(token); ok {
				info.Answer = m.Answer(o)
			}
		}
		positions = append(positions, info)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Token < positions[j].Token })
	respondJSON(w, positions)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	snapshot := s.engine.Orders.Snapshot()

	orders := make([]OrderInfo, 0, len(snapshot))
	for token, pair := range snapshot {
		var cond string
		if m, ok := s.engine.Registry.ForToken(token); ok {
			cond = m.ConditionID
		}
		for _, side := range []market.Side{market.Buy, market.Sell} {
			o := pair.Side(side)
			if o.Size <= 0 {
				continue
			}
			orders = append(orders, OrderInfo{Token: token, Market: cond, Side: string(side), Price: o.Price, Size: o.Size})
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].Token != orders[j].Token {
			return orders[i].Token < orders[j].Token
		}
		return orders[i].Side < orders[j].Side
	})
	respondJSON(w, orders)
}

func (s *Server) handleGetDecisions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusNotImplemented, "decision journal disabled", "set COOLDOWN_BACKEND=pebble to keep a journal")
		return
	}

	limit := defaultDecisionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}

	decisions, err := s.journal.RecentDecisions(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read journal", err.Error())
		return
	}
	if decisions == nil {
		decisions = []trader.Decision{}
	}
	respondJSON(w, decisions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, HealthResponse{
		Status:  "ok",
		Markets: s.engine.Registry.Count(),
		Pending: s.engine.Pending.Total(),
	})
}

// ==============================
// Broadcast Methods
// ==============================

// BroadcastDecision pushes a decision to "decisions" and
// "decisions:<market>" subscribers.
func (s *Server) BroadcastDecision(d trader.Decision) {
	s.hub.BroadcastToChannel(ChannelDecisions+":"+d.Market, DecisionUpdate{Type: "decision", Data: d})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
