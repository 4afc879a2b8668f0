// Package api provides the HTTP and WebSocket server for the allocation
// engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/atlas-desktop/allocation-engine/internal/engine"
	"github.com/atlas-desktop/allocation-engine/internal/oracle"
	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CallerHeader carries the opaque caller identity on every mutating request.
const CallerHeader = "X-Caller-Identity"

// Server is the HTTP/WebSocket API server.
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	engine     *engine.Engine
	hub        *Hub
	router     *mux.Router
	httpServer *http.Server
}

// NewServer creates the API server and wires all routes.
func NewServer(logger *zap.Logger, config *types.ServerConfig, eng *engine.Engine,
	hub *Hub, gatherer prometheus.Gatherer) *Server {

	s := &Server{
		logger: logger.Named("api"),
		config: config,
		engine: eng,
		hub:    hub,
		router: mux.NewRouter(),
	}
	s.setupRoutes(gatherer)
	return s
}

// Router exposes the underlying router for additional handlers.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	r := s.router

	r.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/v1/height", s.handleHeight).Methods("GET")

	// Strategy registry
	r.HandleFunc("/api/v1/strategies", s.handleCreateStrategy).Methods("POST")
	r.HandleFunc("/api/v1/strategies", s.handleListStrategies).Methods("GET")
	r.HandleFunc("/api/v1/strategies/{id}", s.handleGetStrategy).Methods("GET")
	r.HandleFunc("/api/v1/strategies/{id}/toggle", s.handleToggleStrategy).Methods("POST")
	r.HandleFunc("/api/v1/strategies/{id}/invest", s.handleInvest).Methods("POST")
	r.HandleFunc("/api/v1/strategies/{id}/withdraw", s.handleWithdraw).Methods("POST")
	r.HandleFunc("/api/v1/strategies/{id}/balance", s.handleGetBalance).Methods("GET")

	// Risk policy
	r.HandleFunc("/api/v1/risk/initialize", s.handleInitializeRisk).Methods("POST")
	r.HandleFunc("/api/v1/risk/parameters/{tier}", s.handleGetRiskParameters).Methods("GET")
	r.HandleFunc("/api/v1/risk/profile", s.handleSetRiskProfile).Methods("POST")
	r.HandleFunc("/api/v1/risk/profile/{user}", s.handleGetRiskProfile).Methods("GET")
	r.HandleFunc("/api/v1/risk/metrics", s.handleUpdateRiskMetrics).Methods("POST")
	r.HandleFunc("/api/v1/risk/metrics/{id}", s.handleGetRiskMetrics).Methods("GET")
	r.HandleFunc("/api/v1/risk/validate", s.handleValidateInvestment).Methods("POST")
	r.HandleFunc("/api/v1/risk/portfolio/{user}", s.handleGetPortfolioRisk).Methods("GET")
	r.HandleFunc("/api/v1/risk/portfolio/{user}/refresh", s.handleRefreshPortfolioRisk).Methods("POST")

	// Optimizer
	r.HandleFunc("/api/v1/optimizations/configs", s.handleCreateOptConfig).Methods("POST")
	r.HandleFunc("/api/v1/optimizations/configs/{id}", s.handleGetOptConfig).Methods("GET")
	r.HandleFunc("/api/v1/optimizations/results/{id}", s.handleGetOptResult).Methods("GET")
	r.HandleFunc("/api/v1/strategies/{id}/optimize", s.handleOptimize).Methods("POST")
	r.HandleFunc("/api/v1/strategies/{id}/auto-optimize", s.handleAutoOptimize).Methods("POST")
	r.HandleFunc("/api/v1/strategies/{id}/recommendation", s.handleRecommendation).Methods("GET")

	// Rebalancing
	r.HandleFunc("/api/v1/strategies/{id}/rebalance", s.handleRebalance).Methods("POST")
	r.HandleFunc("/api/v1/strategies/{id}/can-rebalance", s.handleCanRebalance).Methods("GET")
	r.HandleFunc("/api/v1/strategies/{id}/allocations", s.handleGetAllocations).Methods("GET")
	r.HandleFunc("/api/v1/rebalances/{id}", s.handleGetRebalanceRecord).Methods("GET")

	// Performance
	r.HandleFunc("/api/v1/strategies/{id}/performance", s.handleUpdatePerformance).Methods("POST")
	r.HandleFunc("/api/v1/strategies/{id}/performance", s.handleGetPerformance).Methods("GET")

	// Administration
	r.HandleFunc("/api/v1/admin/risk-multiplier", s.handleSetRiskMultiplier).Methods("POST")
	r.HandleFunc("/api/v1/admin/min-confidence", s.handleSetMinConfidence).Methods("POST")
	r.HandleFunc("/api/v1/admin/max-data-age", s.handleSetMaxDataAge).Methods("POST")
	r.HandleFunc("/api/v1/admin/rebalance-interval", s.handleSetRebalanceInterval).Methods("POST")
	r.HandleFunc("/api/v1/admin/updaters", s.handleAddUpdater).Methods("POST")
	r.HandleFunc("/api/v1/admin/updaters/{id}", s.handleRemoveUpdater).Methods("DELETE")
	r.HandleFunc("/api/v1/admin/operator", s.handleTransferOperator).Methods("POST")

	if s.config.EnableMetrics && gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.HandleFunc(s.config.WebSocketPath, s.hub.handleWebSocket)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// ---- helpers ----

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (types.Identity, bool) {
	id := r.Header.Get(CallerHeader)
	if id == "" {
		s.writeError(w, fmt.Errorf("%w: missing %s header", types.ErrUnauthorized, CallerHeader))
		return "", false
	}
	return types.Identity(id), true
}

func pathID(r *http.Request, name string) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", types.ErrInvalidParameter, name)
	}
	return id, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps the engine's error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrInvalidParameter),
		errors.Is(err, types.ErrInsufficientBalance):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrInactive):
		status = http.StatusConflict
	case errors.Is(err, types.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, types.ErrRiskLimitExceeded),
		errors.Is(err, types.ErrInsufficientConfidence),
		errors.Is(err, types.ErrStaleData):
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, map[string]any{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", types.ErrInvalidParameter)
	}
	return nil
}

// ---- handlers ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"height": s.engine.Height(),
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleHeight(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"height": s.engine.Height()})
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Name      string          `json:"name"`
		MinAmount decimal.Decimal `json:"minAmount"`
		MaxAmount decimal.Decimal `json:"maxAmount"`
		RiskLevel uint32          `json:"riskLevel"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.engine.CreateStrategy(caller, req.Name, req.MinAmount, req.MaxAmount, req.RiskLevel)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"strategyId": id})
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := s.engine.ListStrategies()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"strategies": strategies,
		"count":      len(strategies),
	})
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	strategy, err := s.engine.GetStrategy(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, strategy)
}

func (s *Server) handleToggleStrategy(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	active, err := s.engine.ToggleStrategyStatus(caller, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"strategyId": id, "active": active})
}

func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Invest(caller, id, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"strategyId": id, "amount": req.Amount})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Withdraw(caller, id, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"strategyId": id, "amount": req.Amount})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	balance, err := s.engine.GetBalance(caller, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleInitializeRisk(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.engine.InitializeRiskParameters(caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"initialized": true})
}

func (s *Server) handleGetRiskParameters(w http.ResponseWriter, r *http.Request) {
	tier, err := strconv.ParseUint(mux.Vars(r)["tier"], 10, 32)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid tier", types.ErrInvalidParameter))
		return
	}
	params, err := s.engine.GetRiskParameters(types.RiskTier(tier))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, params)
}

func (s *Server) handleSetRiskProfile(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		RiskTolerance      uint32          `json:"riskTolerance"`
		MaxExposure        decimal.Decimal `json:"maxExposure"`
		DiversificationMin uint32          `json:"diversificationMin"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.SetUserRiskProfile(caller, req.RiskTolerance, req.MaxExposure, req.DiversificationMin); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"user": caller})
}

func (s *Server) handleGetRiskProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.engine.GetUserRiskProfile(types.Identity(mux.Vars(r)["user"]))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateRiskMetrics(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req types.StrategyRiskMetrics
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.UpdateStrategyRiskMetrics(caller, req); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"strategyId": req.StrategyID})
}

func (s *Server) handleGetRiskMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	metrics, err := s.engine.GetStrategyRiskMetrics(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleValidateInvestment(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		StrategyID uint64          `json:"strategyId"`
		Amount     decimal.Decimal `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	valid, reason := s.engine.ValidateInvestment(caller, req.StrategyID, req.Amount)
	resp := map[string]any{"valid": valid}
	if reason != nil {
		resp["reason"] = reason.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPortfolioRisk(w http.ResponseWriter, r *http.Request) {
	risk, err := s.engine.GetPortfolioRisk(types.Identity(mux.Vars(r)["user"]))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, risk)
}

func (s *Server) handleRefreshPortfolioRisk(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	risk, err := s.engine.UpdatePortfolioRisk(caller, types.Identity(mux.Vars(r)["user"]))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, risk)
}

func (s *Server) handleCreateOptConfig(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		StrategyID         uint64                 `json:"strategyId"`
		Type               types.OptimizationType `json:"type"`
		TargetReturnBps    uint32                 `json:"targetReturnBps"`
		MaxRiskBps         uint32                 `json:"maxRiskBps"`
		RebalanceFrequency uint64                 `json:"rebalanceFrequency"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.engine.CreateOptimizationConfig(caller, req.StrategyID, req.Type,
		req.TargetReturnBps, req.MaxRiskBps, req.RebalanceFrequency)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"configId": id})
}

func (s *Server) handleGetOptConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	config, err := s.engine.GetOptimizationConfig(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, config)
}

func (s *Server) handleGetOptResult(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.engine.GetOptimizationResult(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Type             types.OptimizationType `json:"type"`
		MarketConditions string                 `json:"marketConditions"`
		Signal           *oracle.Datum          `json:"signal,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.engine.OptimizeStrategy(caller, id, req.Type, req.MarketConditions, req.Signal)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAutoOptimize(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, performed, err := s.engine.AutoOptimizeStrategy(caller, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := map[string]any{"performed": performed}
	if performed {
		resp["result"] = result
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	tolerance, err := strconv.ParseUint(r.URL.Query().Get("riskTolerance"), 10, 32)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid riskTolerance", types.ErrInvalidParameter))
		return
	}
	rec, err := s.engine.GetOptimizationRecommendation(id, uint32(tolerance), r.URL.Query().Get("sentiment"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		Allocations []types.AllocationEntry `json:"allocations"`
		Reason      string                  `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	rebalanceID, err := s.engine.ExecuteRebalance(caller, id, req.Allocations, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rebalanceId": rebalanceID})
}

func (s *Server) handleCanRebalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	can, err := s.engine.CanRebalance(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"strategyId": id, "canRebalance": can})
}

func (s *Server) handleGetAllocations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	allocations, err := s.engine.GetAllocations(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"strategyId":  id,
		"allocations": allocations,
	})
}

func (s *Server) handleGetRebalanceRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	record, err := s.engine.GetRebalanceRecord(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleUpdatePerformance(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req struct {
		TotalReturnBps int64  `json:"totalReturnBps"`
		VolatilityBps  uint32 `json:"volatilityBps"`
		MaxDrawdownBps uint32 `json:"maxDrawdownBps"`
		WinRateBps     uint32 `json:"winRateBps"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	perf, err := s.engine.UpdatePerformance(caller, id, req.TotalReturnBps,
		req.VolatilityBps, req.MaxDrawdownBps, req.WinRateBps)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, perf)
}

func (s *Server) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	perf, found, err := s.engine.GetStrategyPerformance(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, fmt.Errorf("%w: no performance recorded for strategy %d", types.ErrNotFound, id))
		return
	}
	s.writeJSON(w, http.StatusOK, perf)
}

func (s *Server) handleSetRiskMultiplier(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Pct uint32 `json:"pct"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.SetGlobalRiskMultiplier(caller, req.Pct); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pct": req.Pct})
}

func (s *Server) handleSetMinConfidence(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Bps uint32 `json:"bps"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.SetMinConfidence(caller, req.Bps); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"bps": req.Bps})
}

func (s *Server) handleSetMaxDataAge(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Age uint64 `json:"age"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.SetMaxDataAge(caller, req.Age); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"age": req.Age})
}

func (s *Server) handleSetRebalanceInterval(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Interval uint64 `json:"interval"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.SetRebalanceInterval(caller, req.Interval); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"interval": req.Interval})
}

func (s *Server) handleAddUpdater(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Updater types.Identity `json:"updater"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.AddAuthorizedUpdater(caller, req.Updater); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"updater": req.Updater})
}

func (s *Server) handleRemoveUpdater(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	updater := types.Identity(mux.Vars(r)["id"])
	if err := s.engine.RemoveAuthorizedUpdater(caller, updater); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"updater": updater})
}

func (s *Server) handleTransferOperator(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Next types.Identity `json:"next"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.TransferOperator(caller, req.Next); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"operator": req.Next})
}
