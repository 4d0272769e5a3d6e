package simulations

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/meridian-labs/vre/internal/config"
	"github.com/meridian-labs/vre/internal/logger"
	"github.com/meridian-labs/vre/internal/planner"
	"github.com/meridian-labs/vre/internal/types"
)

const (
	rpcTimeout = 20 * time.Second
)

var (
	moveLogger = logger.GetForComponent("move_simulator")
	planLogger = logger.GetForComponent("plan_simulator")
)

// --- JSON-RPC Structures ---

// JSONRPCRequest defines the structure of a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      int                `json:"id"`
	Method  string             `json:"method"`
	Params  MoveEstimateParams `json:"params"`
}

// MoveEstimateParams defines the parameters for the "custody_estimateMove" method.
type MoveEstimateParams struct {
	VaultID   uint64 `json:"vault_id"`
	Leg       int    `json:"leg"`
	Direction string `json:"direction"`
	Denom     string `json:"denom"`
	Amount    string `json:"amount"` // Integer string in base units
}

// JSONRPCResponse defines the structure of a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string               `json:"jsonrpc"`
	ID      int                  `json:"id"`
	Result  *MoveEstimatePayload `json:"result,omitempty"`
	Error   *JSONRPCError        `json:"error,omitempty"`
}

// MoveEstimatePayload is the estimate as the custody service encodes it.
type MoveEstimatePayload struct {
	ExpectedOut string `json:"expected_out"` // Integer string in base units
	CostBps     int64  `json:"cost_bps"`
	SlippageBps int64  `json:"slippage_bps"`
}

// JSONRPCError defines the structure of a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// --- Result Structures ---

// MoveEstimationResult holds the custody service's estimate for one leg move.
type MoveEstimationResult struct {
	Leg         int
	Direction   planner.MoveDirection
	AmountIn    math.Int
	ExpectedOut math.Int // Amount arriving after execution cost
	CostBps     int64
	SlippageBps int64
	Slippage    float64 // Fraction for display, SlippageBps / 10000
}

// --- Simulation Functions ---

// SimulateMove asks the custody service what executing one leg move would cost.
func SimulateMove(vaultID types.VaultID, assetDenom string, move planner.LegMove) (MoveEstimationResult, error) {
	return simulateMoveWithEndpoint(config.CustodyRPC, vaultID, assetDenom, move)
}

// simulateMoveWithEndpoint performs the actual move estimation
func simulateMoveWithEndpoint(
	rpcEndpoint string,
	vaultID types.VaultID,
	assetDenom string,
	move planner.LegMove,
) (MoveEstimationResult, error) {
	if rpcEndpoint == "" {
		return MoveEstimationResult{}, fmt.Errorf("custody RPC endpoint is not configured")
	}
	if move.Amount.IsNil() || !move.Amount.IsPositive() {
		return MoveEstimationResult{}, fmt.Errorf("move amount must be positive")
	}

	params := MoveEstimateParams{
		VaultID:   uint64(vaultID),
		Leg:       move.Leg,
		Direction: string(move.Direction),
		Denom:     assetDenom,
		Amount:    move.Amount.String(),
	}

	payload, err := executeRPCQuery(rpcEndpoint, "custody_estimateMove", params, moveLogger, 1)
	if err != nil {
		return MoveEstimationResult{}, err
	}

	expectedOut, ok := math.NewIntFromString(payload.ExpectedOut)
	if !ok {
		moveLogger.Error().Str("expectedOut", payload.ExpectedOut).Msg("Failed to parse expected out amount")
		return MoveEstimationResult{}, fmt.Errorf("unparseable expected out amount %q", payload.ExpectedOut)
	}
	if expectedOut.IsNegative() {
		return MoveEstimationResult{}, fmt.Errorf("negative expected out amount %s", expectedOut.String())
	}
	if payload.CostBps < 0 || payload.SlippageBps < 0 {
		return MoveEstimationResult{}, fmt.Errorf("negative cost estimate: cost %d bps, slippage %d bps", payload.CostBps, payload.SlippageBps)
	}

	moveLogger.Info().
		Uint64("vaultId", uint64(vaultID)).
		Int("leg", move.Leg).
		Str("direction", string(move.Direction)).
		Str("amountIn", move.Amount.String()).
		Str("expectedOut", expectedOut.String()).
		Int64("slippageBps", payload.SlippageBps).
		Msg("Move simulation completed")

	return MoveEstimationResult{
		Leg:         move.Leg,
		Direction:   move.Direction,
		AmountIn:    move.Amount,
		ExpectedOut: expectedOut,
		CostBps:     payload.CostBps,
		SlippageBps: payload.SlippageBps,
		Slippage:    float64(payload.SlippageBps) / 10000.0,
	}, nil
}

// SimulatePlan estimates every move of a rebalance plan and enforces the
// slippage tolerance. A single move over tolerance fails the whole plan so
// the engine submits either all of it or none of it.
func SimulatePlan(
	vaultID types.VaultID,
	assetDenom string,
	moves []planner.LegMove,
	maxSlippageBps int64,
) ([]MoveEstimationResult, error) {
	if len(moves) == 0 {
		return nil, fmt.Errorf("plan has no moves to simulate")
	}

	results := make([]MoveEstimationResult, 0, len(moves))
	worstSlippageBps := int64(0)
	for i, move := range moves {
		estimate, err := SimulateMove(vaultID, assetDenom, move)
		if err != nil {
			return nil, fmt.Errorf("failed to estimate move %d: %w", i, err)
		}
		if maxSlippageBps > 0 && estimate.SlippageBps > maxSlippageBps {
			planLogger.Warn().
				Uint64("vaultId", uint64(vaultID)).
				Int("leg", move.Leg).
				Int64("slippageBps", estimate.SlippageBps).
				Int64("maxSlippageBps", maxSlippageBps).
				Msg("Plan rejected, move slippage over tolerance")
			return nil, errors.Join(types.ErrSlippageExceeded,
				fmt.Errorf("move %d on leg %d estimates %d bps slippage, tolerance is %d bps", i, move.Leg, estimate.SlippageBps, maxSlippageBps))
		}
		if estimate.SlippageBps > worstSlippageBps {
			worstSlippageBps = estimate.SlippageBps
		}
		results = append(results, estimate)
	}

	planLogger.Info().
		Uint64("vaultId", uint64(vaultID)).
		Int("moveCount", len(results)).
		Int64("worstSlippageBps", worstSlippageBps).
		Msg("Plan simulation completed")

	return results, nil
}

// executeRPCQuery executes the estimate query and returns the decoded result
func executeRPCQuery(
	rpcEndpoint string,
	method string,
	params MoveEstimateParams,
	logger zerolog.Logger,
	rpcID int,
) (*MoveEstimatePayload, error) {
	jsonRPCReq := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      rpcID,
		Method:  method,
		Params:  params,
	}

	jsonData, err := json.Marshal(jsonRPCReq)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal JSON-RPC request")
		return nil, fmt.Errorf("failed to marshal JSON-RPC request: %w", err)
	}

	logger.Debug().
		Str("endpoint", rpcEndpoint).
		Str("method", method).
		Msg("Executing RPC query")

	httpClient := http.Client{Timeout: rpcTimeout}
	req, err := http.NewRequest("POST", rpcEndpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create HTTP request")
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to send HTTP request")
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read response body")
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var jsonRPCResp JSONRPCResponse
	if err := json.Unmarshal(respBodyBytes, &jsonRPCResp); err != nil {
		logger.Error().Err(err).Str("body", string(respBodyBytes)).Msg("Failed to unmarshal JSON-RPC response")
		return nil, fmt.Errorf("failed to unmarshal JSON-RPC response: %w", err)
	}

	if jsonRPCResp.Error != nil {
		logger.Error().
			Int("code", jsonRPCResp.Error.Code).
			Str("message", jsonRPCResp.Error.Message).
			Msg("RPC error received")
		return nil, fmt.Errorf("RPC error: %s (code %d)", jsonRPCResp.Error.Message, jsonRPCResp.Error.Code)
	}

	if jsonRPCResp.Result == nil {
		logger.Warn().Msg("Empty estimate result")
		return nil, fmt.Errorf("empty estimate result for %s", method)
	}

	return jsonRPCResp.Result, nil
}
