package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridian-labs/vre/internal/ledger"
	"github.com/meridian-labs/vre/internal/logger"
	"github.com/meridian-labs/vre/internal/state"
	"github.com/meridian-labs/vre/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// statusPage is the minimal operator landing page. The real observability
// surface is the JSON API and the Prometheus endpoint.
const statusPage = `<!DOCTYPE html>
<html>
<head><title>Vault Risk Engine</title></head>
<body>
<h1>Vault Risk Engine</h1>
<ul>
<li><a href="/health">/health</a></li>
<li><a href="/metrics">/metrics</a></li>
<li><a href="/api/summary">/api/summary</a></li>
<li><a href="/api/vaults">/api/vaults</a></li>
<li><a href="/api/cycles">/api/cycles</a></li>
<li><a href="/api/events">/api/events</a></li>
<li><a href="/api/performance">/api/performance</a></li>
<li><a href="/api/risk-parameters">/api/risk-parameters</a></li>
</ul>
</body>
</html>
`

// WebServer handles HTTP requests for vault data visualization
type WebServer struct {
	router     *mux.Router
	port       string
	configName string
}

// NewWebServer creates a new web server instance
func NewWebServer(port, riskConfigName string) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:     mux.NewRouter(),
		port:       port,
		configName: riskConfigName,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Status page
	ws.router.HandleFunc("/", ws.handleStatusPage).Methods("GET")

	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// Prometheus metrics
	ws.router.Path("/metrics").Handler(promhttp.Handler()).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/summary", ws.handleGetSummary).Methods("GET")
	api.HandleFunc("/performance", ws.handleGetPerformanceMetrics).Methods("GET")
	api.HandleFunc("/risk-parameters", ws.handleGetRiskParameters).Methods("GET")
	api.HandleFunc("/vaults", ws.handleGetVaults).Methods("GET")
	api.HandleFunc("/vaults/{id}", ws.handleGetVault).Methods("GET")
	api.HandleFunc("/vaults/{id}/harvests", ws.handleGetVaultHarvests).Methods("GET")
	api.HandleFunc("/vaults/{id}/positions", ws.handleGetVaultPositions).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/cycles/latest", ws.handleGetLatestCycle).Methods("GET")
	api.HandleFunc("/cycles/{id}", ws.handleGetCycle).Methods("GET")
	api.HandleFunc("/events", ws.handleGetEvents).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns comprehensive server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Get runtime memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// Get latest cycle information
	latestCycles, cycleErr := state.GetRecentCycles(1)
	var cycleInfo map[string]interface{}
	var hasErrors bool
	var lastCycleTime *time.Time

	if cycleErr == nil && len(latestCycles) > 0 {
		cycle := latestCycles[0]
		status := "completed"
		if cycle.ErrorMessage != "" {
			status = "failed"
			hasErrors = true
		}
		cycleInfo = map[string]interface{}{
			"current_cycle":          cycle.CycleNumber,
			"last_cycle_time":        cycle.Timestamp,
			"last_cycle_status":      status,
			"last_cycle_error":       cycle.ErrorMessage,
			"instructions_submitted": len(cycle.InstructionHashes),
			"harvests_settled":       len(cycle.Harvests),
			"liquidations_executed":  len(cycle.Liquidations),
			"last_cycle_duration_ms": cycle.DurationMs,
		}
		lastCycleTime = &cycle.Timestamp
	} else {
		cycleInfo = map[string]interface{}{
			"current_cycle":     0,
			"last_cycle_time":   nil,
			"last_cycle_status": "unknown",
		}
		hasErrors = true // No cycle data available indicates an issue
	}

	// Get database connection status
	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
		hasErrors = true
	}

	// Determine overall status
	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	// Time since the engine last completed a cycle
	var idleSeconds int64
	if lastCycleTime != nil {
		idleSeconds = int64(time.Since(*lastCycleTime).Seconds())
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":            runtime.Version(),
			"goroutines_count":   runtime.NumGoroutine(),
			"total_alloc_bytes":  memStats.TotalAlloc,
			"heap_objects_count": memStats.HeapObjects,
			"alloc_bytes":        memStats.Alloc,
			"sys_bytes":          memStats.Sys,
			"gc_cycles":          memStats.NumGC,
			"idle_seconds":       idleSeconds,
		},
		"component": map[string]interface{}{
			"name":    "vre-vault-risk-engine",
			"version": "1.0.0",
		},
		"engine_status": map[string]interface{}{
			"database_healthy":  dbHealthy,
			"has_recent_errors": hasErrors,
			"cycle_info":        cycleInfo,
		},
	}

	// Set appropriate HTTP status code
	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleStatusPage serves the operator landing page
func (ws *WebServer) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(statusPage))
}

// vaultView decorates a vault ledger with quantities derived on read.
type vaultView struct {
	types.VaultLedger
	NavPerShare string `json:"nav_per_share"`
}

// handleGetVaults returns every vault ledger
func (ws *WebServer) handleGetVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := state.LoadAllVaults()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to load vaults")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve vaults")
		return
	}

	views := make([]vaultView, 0, len(vaults))
	for _, vault := range vaults {
		views = append(views, vaultView{
			VaultLedger: vault,
			NavPerShare: ledger.NavPerShare(vault.TotalAssets, vault.TotalShares).String(),
		})
	}

	response := map[string]interface{}{
		"vaults": views,
		"count":  len(views),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetVault returns one vault with holder and flow statistics
func (ws *WebServer) handleGetVault(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := ws.vaultIDFromRequest(w, r)
	if !ok {
		return
	}

	vault, err := state.LoadVault(vaultID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			ws.writeErrorResponse(w, http.StatusNotFound, "Vault not found")
			return
		}
		webLogger.Error().Err(err).Uint64("vaultId", uint64(vaultID)).Msg("Failed to load vault")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve vault")
		return
	}

	balances, err := state.ListShareBalances(vaultID)
	if err != nil {
		webLogger.Error().Err(err).Uint64("vaultId", uint64(vaultID)).Msg("Failed to list share balances")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve share balances")
		return
	}

	appliedFlows, err := state.CountAppliedFlows(vaultID)
	if err != nil {
		webLogger.Error().Err(err).Uint64("vaultId", uint64(vaultID)).Msg("Failed to count applied flows")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve flow statistics")
		return
	}

	response := map[string]interface{}{
		"vault": vaultView{
			VaultLedger: *vault,
			NavPerShare: ledger.NavPerShare(vault.TotalAssets, vault.TotalShares).String(),
		},
		"holders":       len(balances),
		"applied_flows": appliedFlows,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetVaultHarvests returns recent harvest receipts for a vault
func (ws *WebServer) handleGetVaultHarvests(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := ws.vaultIDFromRequest(w, r)
	if !ok {
		return
	}

	limit := ws.limitFromQuery(r, 10)
	receipts, err := state.ListHarvestReceipts(vaultID, limit)
	if err != nil {
		webLogger.Error().Err(err).Uint64("vaultId", uint64(vaultID)).Msg("Failed to list harvest receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve harvest receipts")
		return
	}

	response := map[string]interface{}{
		"harvests": receipts,
		"count":    len(receipts),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetVaultPositions returns the open leveraged positions of a vault
func (ws *WebServer) handleGetVaultPositions(w http.ResponseWriter, r *http.Request) {
	vaultID, ok := ws.vaultIDFromRequest(w, r)
	if !ok {
		return
	}

	positions, err := state.ListOpenPositions(vaultID)
	if err != nil {
		webLogger.Error().Err(err).Uint64("vaultId", uint64(vaultID)).Msg("Failed to list open positions")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve positions")
		return
	}

	response := map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCycles returns paginated cycle data
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit := ws.limitFromQuery(r, 20)

	cycles, err := state.GetRecentCycles(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent cycles")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycles")
		return
	}

	response := map[string]interface{}{
		"cycles": cycles,
		"count":  len(cycles),
		"limit":  limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCycle returns a specific cycle by snapshot ID
func (ws *WebServer) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idStr := vars["id"]

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid cycle ID")
		return
	}

	cycle, err := state.GetCycleByID(id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			ws.writeErrorResponse(w, http.StatusNotFound, "Cycle not found")
			return
		}
		webLogger.Error().Err(err).Int64("cycleId", id).Msg("Failed to get cycle")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycle")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, cycle)
}

// handleGetLatestCycle returns the most recent cycle
func (ws *WebServer) handleGetLatestCycle(w http.ResponseWriter, r *http.Request) {
	cycles, err := state.GetRecentCycles(1)
	if err != nil || len(cycles) == 0 {
		webLogger.Error().Err(err).Msg("Failed to get latest cycle")
		ws.writeErrorResponse(w, http.StatusNotFound, "No cycles found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, cycles[0])
}

// handleGetRiskParameters returns the active risk parameters
func (ws *WebServer) handleGetRiskParameters(w http.ResponseWriter, r *http.Request) {
	params, err := state.LoadActiveRiskParameters(ws.configName)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			ws.writeErrorResponse(w, http.StatusNotFound, "No active risk parameters")
			return
		}
		webLogger.Error().Err(err).Msg("Failed to get risk parameters")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve risk parameters")
		return
	}

	response := map[string]interface{}{
		"parameters": params,
		"timestamp":  time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSummary returns protocol-wide summary statistics
func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := state.GetProtocolSummary()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get protocol summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve protocol summary")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// handleGetPerformanceMetrics returns performance metrics
func (ws *WebServer) handleGetPerformanceMetrics(w http.ResponseWriter, r *http.Request) {
	performance, err := state.GetPerformanceMetrics()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get performance metrics")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve performance metrics")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, performance)
}

// handleGetEvents returns the most recent ledger events
func (ws *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := ws.limitFromQuery(r, 20)

	events, err := state.GetRecentEvents(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent events")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}

	response := map[string]interface{}{
		"events": events,
		"count":  len(events),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// vaultIDFromRequest parses the {id} path variable, writing the error
// response itself when the ID is malformed.
func (ws *WebServer) vaultIDFromRequest(w http.ResponseWriter, r *http.Request) (types.VaultID, bool) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid vault ID")
		return 0, false
	}
	return types.VaultID(id), true
}

func (ws *WebServer) limitFromQuery(r *http.Request, fallback int) int {
	limit := fallback
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	return limit
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
