package custody

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"

	"github.com/meridian-labs/vre/internal/planner"
)

func validFlowRecord() flowRecord {
	return flowRecord{
		FlowID:    "flow-001",
		Account:   "vre1depositor",
		Direction: "IN",
		Denom:     "uusdc",
		Amount:    "2500000",
		SettledAt: 1_700_000_000,
	}
}

func TestParseFlowRecord(t *testing.T) {
	flow, err := parseFlowRecord(validFlowRecord(), 0)
	require.NoError(t, err)
	require.Equal(t, "flow-001", flow.FlowID)
	require.Equal(t, FlowInbound, flow.Direction)
	require.Equal(t, sdkmath.NewInt(2_500_000), flow.Amount.Amount)
	require.Equal(t, "uusdc", flow.Amount.Denom)

	t.Run("rejects empty flow ID", func(t *testing.T) {
		record := validFlowRecord()
		record.FlowID = ""
		_, err := parseFlowRecord(record, 3)
		require.Error(t, err)
	})

	t.Run("rejects unknown direction", func(t *testing.T) {
		record := validFlowRecord()
		record.Direction = "SIDEWAYS"
		_, err := parseFlowRecord(record, 0)
		require.Error(t, err)
	})

	t.Run("rejects unparseable amount", func(t *testing.T) {
		record := validFlowRecord()
		record.Amount = "2.5e6"
		_, err := parseFlowRecord(record, 0)
		require.Error(t, err)
	})

	t.Run("rejects zero amount", func(t *testing.T) {
		record := validFlowRecord()
		record.Amount = "0"
		_, err := parseFlowRecord(record, 0)
		require.Error(t, err)
	})

	t.Run("rejects missing settlement time", func(t *testing.T) {
		record := validFlowRecord()
		record.SettledAt = 0
		_, err := parseFlowRecord(record, 0)
		require.Error(t, err)
	})
}

func TestValidateLegMoves(t *testing.T) {
	moves := []planner.LegMove{
		{Leg: 0, Direction: planner.MoveReduce, DeltaBps: -500, Amount: sdkmath.NewInt(100_000)},
		{Leg: 1, Direction: planner.MoveIncrease, DeltaBps: 500, Amount: sdkmath.NewInt(100_000)},
	}
	require.NoError(t, validateLegMoves(7, "uusdc", moves))

	t.Run("rejects zero vault ID", func(t *testing.T) {
		err := validateLegMoves(0, "uusdc", moves)
		require.ErrorIs(t, err, ErrInvalidVaultID)
	})

	t.Run("rejects empty move list", func(t *testing.T) {
		err := validateLegMoves(7, "uusdc", nil)
		require.ErrorIs(t, err, ErrInvalidMoveData)
	})

	t.Run("rejects negative leg index", func(t *testing.T) {
		bad := []planner.LegMove{{Leg: -1, Direction: planner.MoveReduce, Amount: sdkmath.NewInt(1)}}
		err := validateLegMoves(7, "uusdc", bad)
		require.ErrorIs(t, err, ErrInvalidMoveData)
	})

	t.Run("rejects unknown direction", func(t *testing.T) {
		bad := []planner.LegMove{{Leg: 0, Direction: "DRIFT", Amount: sdkmath.NewInt(1)}}
		err := validateLegMoves(7, "uusdc", bad)
		require.ErrorIs(t, err, ErrInvalidMoveData)
	})

	t.Run("rejects zero amount", func(t *testing.T) {
		bad := []planner.LegMove{{Leg: 0, Direction: planner.MoveReduce, Amount: sdkmath.ZeroInt()}}
		err := validateLegMoves(7, "uusdc", bad)
		require.ErrorIs(t, err, ErrInvalidMoveData)
	})
}

func TestSimGatewayFlowLifecycle(t *testing.T) {
	sim := NewSimGateway()
	sim.QueueFlow(1, Flow{
		FlowID:    "flow-a",
		Account:   "vre1alice",
		Direction: FlowInbound,
		Amount:    sdk.NewCoin("uusdc", sdkmath.NewInt(1_000_000)),
		SettledAt: 100,
	})
	sim.QueueFlow(1, Flow{
		FlowID:    "flow-b",
		Account:   "vre1bob",
		Direction: FlowOutbound,
		Amount:    sdk.NewCoin("uusdc", sdkmath.NewInt(400_000)),
		SettledAt: 101,
	})

	flows, err := sim.SettledFlows(1)
	require.NoError(t, err)
	require.Len(t, flows, 2)

	require.NoError(t, sim.AcknowledgeFlows(1, []string{"flow-a"}))

	flows, err = sim.SettledFlows(1)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.Equal(t, "flow-b", flows[0].FlowID)

	err = sim.AcknowledgeFlows(1, []string{"flow-z"})
	require.ErrorIs(t, err, ErrInvalidFlowData)
}

func TestSimGatewayExecuteLegMoves(t *testing.T) {
	sim := NewSimGateway()
	sim.SetLegBook(3, []sdkmath.Int{sdkmath.NewInt(1_000_000), sdkmath.NewInt(500_000)})

	moves := []planner.LegMove{
		{Leg: 0, Direction: planner.MoveReduce, DeltaBps: -200, Amount: sdkmath.NewInt(200_000)},
		{Leg: 1, Direction: planner.MoveIncrease, DeltaBps: 200, Amount: sdkmath.NewInt(200_000)},
	}
	hash, err := sim.ExecuteLegMoves(3, "uusdc", moves)
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	values, err := sim.LegValues(3)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(800_000), values[0])
	require.Equal(t, sdkmath.NewInt(700_000), values[1])

	submissions := sim.Submissions()
	require.Len(t, submissions, 1)
	require.Equal(t, hash, submissions[0].Hash)
	require.Len(t, submissions[0].Moves, 2)

	t.Run("rejects reducing below zero", func(t *testing.T) {
		over := []planner.LegMove{{Leg: 1, Direction: planner.MoveReduce, Amount: sdkmath.NewInt(900_000)}}
		_, err := sim.ExecuteLegMoves(3, "uusdc", over)
		require.ErrorIs(t, err, ErrInvalidMoveData)
	})

	t.Run("rejects out of range leg", func(t *testing.T) {
		missing := []planner.LegMove{{Leg: 5, Direction: planner.MoveIncrease, Amount: sdkmath.NewInt(1)}}
		_, err := sim.ExecuteLegMoves(3, "uusdc", missing)
		require.ErrorIs(t, err, ErrInvalidMoveData)
	})
}

func TestSimGatewayPayOutFees(t *testing.T) {
	sim := NewSimGateway()

	hash, err := sim.PayOutFees(2, "vre1treasury", sdk.NewCoin("uusdc", sdkmath.NewInt(55_000)))
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	payouts := sim.Payouts()
	require.Len(t, payouts, 1)
	require.Equal(t, "vre1treasury", payouts[0].Recipient)
	require.Equal(t, sdkmath.NewInt(55_000), payouts[0].Amount.Amount)

	_, err = sim.PayOutFees(2, "", sdk.NewCoin("uusdc", sdkmath.NewInt(1)))
	require.Error(t, err)
}
