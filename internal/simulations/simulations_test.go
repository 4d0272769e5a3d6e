package simulations

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/vre/internal/config"
	"github.com/meridian-labs/vre/internal/planner"
	"github.com/meridian-labs/vre/internal/types"
)

// estimateServer answers custody_estimateMove with the configured slippage
// per leg, echoing the requested amount back as the expected out.
func estimateServer(t *testing.T, slippageByLeg map[int]int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "custody_estimateMove", req.Method)

		resp := JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: &MoveEstimatePayload{
				ExpectedOut: req.Params.Amount,
				CostBps:     2,
				SlippageBps: slippageByLeg[req.Params.Leg],
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestSimulateMove(t *testing.T) {
	server := estimateServer(t, map[int]int64{0: 35})
	defer server.Close()

	move := planner.LegMove{
		Leg:       0,
		Direction: planner.MoveIncrease,
		DeltaBps:  500,
		Amount:    sdkmath.NewInt(250_000),
	}

	estimate, err := simulateMoveWithEndpoint(server.URL, types.VaultID(7), "uusdc", move)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(250_000), estimate.ExpectedOut)
	assert.Equal(t, int64(2), estimate.CostBps)
	assert.Equal(t, int64(35), estimate.SlippageBps)
	assert.InDelta(t, 0.0035, estimate.Slippage, 1e-9)
}

func TestSimulateMoveRejectsBadInput(t *testing.T) {
	move := planner.LegMove{
		Leg:       0,
		Direction: planner.MoveReduce,
		Amount:    sdkmath.NewInt(1),
	}

	t.Run("missing endpoint", func(t *testing.T) {
		_, err := simulateMoveWithEndpoint("", types.VaultID(1), "uusdc", move)
		assert.Error(t, err)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		zeroMove := move
		zeroMove.Amount = sdkmath.ZeroInt()
		_, err := simulateMoveWithEndpoint("http://unreachable.invalid", types.VaultID(1), "uusdc", zeroMove)
		assert.Error(t, err)
	})
}

func TestSimulateMoveRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      1,
			Error:   &JSONRPCError{Code: -32000, Message: "leg is frozen"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	move := planner.LegMove{
		Leg:       1,
		Direction: planner.MoveReduce,
		Amount:    sdkmath.NewInt(100),
	}
	_, err := simulateMoveWithEndpoint(server.URL, types.VaultID(1), "uusdc", move)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leg is frozen")
}

func TestSimulatePlan(t *testing.T) {
	moves := []planner.LegMove{
		{Leg: 0, Direction: planner.MoveReduce, DeltaBps: -600, Amount: sdkmath.NewInt(300_000)},
		{Leg: 1, Direction: planner.MoveIncrease, DeltaBps: 600, Amount: sdkmath.NewInt(300_000)},
	}

	withEndpoint := func(t *testing.T, server *httptest.Server) {
		t.Helper()
		previous := config.CustodyRPC
		config.CustodyRPC = server.URL
		t.Cleanup(func() { config.CustodyRPC = previous })
	}

	t.Run("plan within tolerance estimates every move", func(t *testing.T) {
		server := estimateServer(t, map[int]int64{0: 30, 1: 45})
		defer server.Close()
		withEndpoint(t, server)

		results, err := SimulatePlan(types.VaultID(7), "uusdc", moves, 100)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, int64(30), results[0].SlippageBps)
		assert.Equal(t, int64(45), results[1].SlippageBps)
	})

	t.Run("one move over tolerance fails the whole plan", func(t *testing.T) {
		server := estimateServer(t, map[int]int64{0: 30, 1: 180})
		defer server.Close()
		withEndpoint(t, server)

		_, err := SimulatePlan(types.VaultID(7), "uusdc", moves, 100)
		assert.ErrorIs(t, err, types.ErrSlippageExceeded)
	})

	t.Run("empty plan is rejected", func(t *testing.T) {
		_, err := SimulatePlan(types.VaultID(7), "uusdc", nil, 100)
		assert.Error(t, err)
	})
}
