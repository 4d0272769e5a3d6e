package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/meridian-labs/vre/internal/logger"
	"github.com/meridian-labs/vre/internal/planner"
	"github.com/meridian-labs/vre/internal/types"
	"github.com/meridian-labs/vre/internal/wallet"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidVaultID      = errors.New("vault ID is invalid")
	ErrInvalidConnection   = errors.New("connection is invalid")
	ErrConnectionFailed    = errors.New("connection establishment failed")
	ErrRPCRequestFailed    = errors.New("RPC request failed")
	ErrInvalidResponse     = errors.New("response data is invalid")
	ErrInvalidFlowData     = errors.New("flow data is invalid")
	ErrInvalidLegData      = errors.New("leg data is invalid")
	ErrInvalidMoveData     = errors.New("move data is invalid")
	ErrInstructionRejected = errors.New("instruction rejected by custody")
	ErrServiceUnhealthy    = errors.New("custody service is unhealthy")
)

var custodyLogger = logger.GetForComponent("custody_gateway")

const (
	rpcTimeout    = 10 * time.Second
	healthTimeout = 5 * time.Second
)

// JSON-RPC Structures for custody service calls with validation

// JSONRPCRequest defines the structure of a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// JSONRPCResponse defines the structure of a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError defines the structure of a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Method parameter payloads.

type vaultScopedParams struct {
	VaultID uint64 `json:"vault_id"`
}

type ackFlowsParams struct {
	VaultID uint64   `json:"vault_id"`
	FlowIDs []string `json:"flow_ids"`
}

type sequenceParams struct {
	Account string `json:"account"`
}

type submitParams struct {
	Instruction wallet.SignedInstruction `json:"instruction"`
}

// Method result payloads.

// flowRecord is a settled flow as the custody service encodes it. Amounts
// arrive as integer strings in base units.
type flowRecord struct {
	FlowID    string `json:"flow_id"`
	Account   string `json:"account"`
	Direction string `json:"direction"`
	Denom     string `json:"denom"`
	Amount    string `json:"amount"`
	SettledAt int64  `json:"settled_at"`
}

type settledFlowsResult struct {
	Flows []flowRecord `json:"flows"`
}

type ackFlowsResult struct {
	Acknowledged int `json:"acknowledged"`
}

type legValuesResult struct {
	Values []string `json:"values"`
}

type sequenceResult struct {
	Sequence uint64 `json:"sequence"`
}

type submitResult struct {
	Hash     string `json:"hash"`
	Accepted bool   `json:"accepted"`
	Log      string `json:"log,omitempty"`
}

// LiveGateway talks to the real custody service: JSON-RPC for queries and
// instruction submission, gRPC health checking for liveness probes.
type LiveGateway struct {
	rpcEndpoint string
	httpClient  *http.Client

	// Persistent gRPC connection for health probes
	grpcConn     *grpc.ClientConn
	healthClient grpc_health_v1.HealthClient

	signer  *wallet.SigningClient
	builder *wallet.InstructionBuilder

	requestID atomic.Int64

	// Connection management
	ctx    context.Context
	cancel context.CancelFunc
}

// NewLiveGateway creates a custody gateway with comprehensive validation.
func NewLiveGateway(rpcEndpoint string, grpcEndpoint string, signer *wallet.SigningClient) (*LiveGateway, error) {
	// Validate inputs with zero tolerance
	if err := validateGatewayInputs(rpcEndpoint, grpcEndpoint, signer); err != nil {
		return nil, err
	}

	builder, err := wallet.NewInstructionBuilder(signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create instruction builder: %w", err)
	}

	grpcConn, err := grpc.NewClient(grpcEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, fmt.Errorf("failed to create gRPC connection to %s: %w", grpcEndpoint, err))
	}

	// Validate gRPC connection state
	if err := validateGRPCConnection(grpcConn); err != nil {
		grpcConn.Close()
		return nil, errors.Join(ErrInvalidConnection, err)
	}

	healthClient := grpc_health_v1.NewHealthClient(grpcConn)
	if healthClient == nil {
		grpcConn.Close()
		return nil, errors.New("failed to create health client")
	}

	ctx, cancel := context.WithCancel(context.Background())

	gateway := &LiveGateway{
		rpcEndpoint:  rpcEndpoint,
		httpClient:   &http.Client{Timeout: rpcTimeout},
		grpcConn:     grpcConn,
		healthClient: healthClient,
		signer:       signer,
		builder:      builder,
		ctx:          ctx,
		cancel:       cancel,
	}

	// Final validation of the complete gateway
	if err := validateGateway(gateway); err != nil {
		cancel()
		grpcConn.Close()
		return nil, fmt.Errorf("custody gateway validation failed: %w", err)
	}

	custodyLogger.Info().
		Str("rpcEndpoint", rpcEndpoint).
		Str("grpcEndpoint", grpcEndpoint).
		Str("signer", signer.Address()).
		Msg("LiveGateway initialized successfully with comprehensive validation")

	return gateway, nil
}

// validateGatewayInputs performs comprehensive input validation
func validateGatewayInputs(rpcEndpoint string, grpcEndpoint string, signer *wallet.SigningClient) error {
	if rpcEndpoint == "" {
		return errors.Join(types.ErrValidation, errors.New("custody RPC endpoint cannot be empty"))
	}
	if grpcEndpoint == "" {
		return errors.Join(types.ErrValidation, errors.New("custody gRPC endpoint cannot be empty"))
	}
	if signer == nil {
		return errors.Join(types.ErrValidation, errors.New("signing client cannot be nil"))
	}
	if signer.Address() == "" {
		return errors.Join(types.ErrValidation, errors.New("signing client has no address"))
	}
	return nil
}

// validateGRPCConnection validates the gRPC connection
func validateGRPCConnection(grpcConn *grpc.ClientConn) error {
	if grpcConn == nil {
		return errors.New("gRPC connection is nil")
	}

	state := grpcConn.GetState()
	if state == connectivity.Shutdown {
		return errors.New("gRPC connection is shutdown")
	}
	if state == connectivity.TransientFailure {
		return errors.New("gRPC connection is in transient failure state")
	}

	return nil
}

// validateGateway performs final validation of the gateway
func validateGateway(gateway *LiveGateway) error {
	if gateway == nil {
		return errors.New("gateway is nil")
	}
	if gateway.rpcEndpoint == "" {
		return errors.New("RPC endpoint is empty")
	}
	if gateway.httpClient == nil {
		return errors.New("HTTP client is nil")
	}
	if gateway.grpcConn == nil {
		return errors.New("gRPC connection is nil")
	}
	if gateway.healthClient == nil {
		return errors.New("health client is nil")
	}
	if gateway.signer == nil {
		return errors.New("signing client is nil")
	}
	if gateway.builder == nil {
		return errors.New("instruction builder is nil")
	}
	if gateway.ctx == nil {
		return errors.New("context is nil")
	}
	if gateway.cancel == nil {
		return errors.New("cancel function is nil")
	}
	return nil
}

// validateState validates the gateway state before use
func (g *LiveGateway) validateState() error {
	if g == nil {
		return errors.New("gateway is nil")
	}
	if g.httpClient == nil {
		return errors.New("HTTP client is nil")
	}
	if g.builder == nil {
		return errors.New("instruction builder is nil")
	}
	return nil
}

// SettledFlows fetches flows settled since the last acknowledgement. One
// malformed flow fails the whole batch: flows move ledger money and every
// record must be exact before any of them is applied.
func (g *LiveGateway) SettledFlows(vaultID types.VaultID) ([]Flow, error) {
	if err := g.validateState(); err != nil {
		return nil, err
	}
	if vaultID == 0 {
		return nil, errors.Join(ErrInvalidVaultID, errors.New("vault ID cannot be zero"))
	}

	var result settledFlowsResult
	if err := g.rpcCall("custody_settledFlows", vaultScopedParams{VaultID: uint64(vaultID)}, &result); err != nil {
		return nil, err
	}

	flows := make([]Flow, 0, len(result.Flows))
	for i, record := range result.Flows {
		flow, err := parseFlowRecord(record, i)
		if err != nil {
			return nil, errors.Join(ErrInvalidFlowData, err)
		}
		flows = append(flows, flow)
	}

	custodyLogger.Debug().
		Uint64("vaultId", uint64(vaultID)).
		Int("flowCount", len(flows)).
		Msg("Settled flows retrieved")

	return flows, nil
}

// parseFlowRecord validates one settled flow and converts it to the domain type
func parseFlowRecord(record flowRecord, index int) (Flow, error) {
	if record.FlowID == "" {
		return Flow{}, fmt.Errorf("flow %d has empty flow ID", index)
	}
	if record.Account == "" {
		return Flow{}, fmt.Errorf("flow %s has empty account", record.FlowID)
	}

	direction := FlowDirection(record.Direction)
	if direction != FlowInbound && direction != FlowOutbound {
		return Flow{}, fmt.Errorf("flow %s has unknown direction %q", record.FlowID, record.Direction)
	}

	if err := sdk.ValidateDenom(record.Denom); err != nil {
		return Flow{}, fmt.Errorf("flow %s has invalid denom %q: %w", record.FlowID, record.Denom, err)
	}

	amount, ok := sdkmath.NewIntFromString(record.Amount)
	if !ok {
		return Flow{}, fmt.Errorf("flow %s has unparseable amount %q", record.FlowID, record.Amount)
	}
	if !amount.IsPositive() {
		return Flow{}, fmt.Errorf("flow %s has non-positive amount %s", record.FlowID, amount.String())
	}

	if record.SettledAt <= 0 {
		return Flow{}, fmt.Errorf("flow %s has invalid settlement time %d", record.FlowID, record.SettledAt)
	}

	return Flow{
		FlowID:    record.FlowID,
		Account:   record.Account,
		Direction: direction,
		Amount:    sdk.NewCoin(record.Denom, amount),
		SettledAt: record.SettledAt,
	}, nil
}

// AcknowledgeFlows marks applied flows so the custody service stops delivering
// them. The service must acknowledge every requested ID or the call fails.
func (g *LiveGateway) AcknowledgeFlows(vaultID types.VaultID, flowIDs []string) error {
	if err := g.validateState(); err != nil {
		return err
	}
	if vaultID == 0 {
		return errors.Join(ErrInvalidVaultID, errors.New("vault ID cannot be zero"))
	}
	if len(flowIDs) == 0 {
		return errors.Join(ErrInvalidFlowData, errors.New("flow ID list cannot be empty"))
	}
	for i, flowID := range flowIDs {
		if flowID == "" {
			return errors.Join(ErrInvalidFlowData, fmt.Errorf("flow ID %d is empty", i))
		}
	}

	var result ackFlowsResult
	if err := g.rpcCall("custody_ackFlows", ackFlowsParams{VaultID: uint64(vaultID), FlowIDs: flowIDs}, &result); err != nil {
		return err
	}

	if result.Acknowledged != len(flowIDs) {
		return errors.Join(ErrInvalidResponse, fmt.Errorf("custody acknowledged %d of %d flows", result.Acknowledged, len(flowIDs)))
	}

	custodyLogger.Info().
		Uint64("vaultId", uint64(vaultID)).
		Int("flowCount", len(flowIDs)).
		Msg("Settled flows acknowledged")

	return nil
}

// LegValues fetches the value deployed in each strategy leg, in the vault's
// asset base units, ordered by leg index.
func (g *LiveGateway) LegValues(vaultID types.VaultID) ([]sdkmath.Int, error) {
	if err := g.validateState(); err != nil {
		return nil, err
	}
	if vaultID == 0 {
		return nil, errors.Join(ErrInvalidVaultID, errors.New("vault ID cannot be zero"))
	}

	var result legValuesResult
	if err := g.rpcCall("custody_legValues", vaultScopedParams{VaultID: uint64(vaultID)}, &result); err != nil {
		return nil, err
	}

	values := make([]sdkmath.Int, 0, len(result.Values))
	for i, raw := range result.Values {
		value, ok := sdkmath.NewIntFromString(raw)
		if !ok {
			return nil, errors.Join(ErrInvalidLegData, fmt.Errorf("leg %d has unparseable value %q", i, raw))
		}
		if value.IsNegative() {
			return nil, errors.Join(ErrInvalidLegData, fmt.Errorf("leg %d has negative value %s", i, value.String()))
		}
		values = append(values, value)
	}

	custodyLogger.Debug().
		Uint64("vaultId", uint64(vaultID)).
		Int("legCount", len(values)).
		Msg("Leg values retrieved")

	return values, nil
}

// ExecuteLegMoves signs and submits an instruction carrying the planned leg
// moves. Returns the instruction hash the custody service accepted.
func (g *LiveGateway) ExecuteLegMoves(vaultID types.VaultID, assetDenom string, moves []planner.LegMove) (string, error) {
	if err := g.validateState(); err != nil {
		return "", err
	}
	if err := validateLegMoves(vaultID, assetDenom, moves); err != nil {
		return "", err
	}
	if err := g.ensureConnection(); err != nil {
		custodyLogger.Error().Err(err).Msg("Failed to ensure connection for ExecuteLegMoves")
		return "", errors.Join(ErrConnectionFailed, err)
	}

	transfers := make([]wallet.LegTransfer, 0, len(moves))
	for _, move := range moves {
		transfers = append(transfers, wallet.LegTransfer{
			Leg:       move.Leg,
			Direction: string(move.Direction),
			Amount:    sdk.NewCoin(assetDenom, move.Amount),
		})
	}

	sequence, err := g.fetchSequence()
	if err != nil {
		return "", err
	}

	instruction, err := g.builder.BuildLegTransferInstruction(vaultID, transfers, sequence, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("failed to build leg transfer instruction: %w", err)
	}

	signed, err := g.builder.SignInstruction(instruction)
	if err != nil {
		return "", fmt.Errorf("failed to sign leg transfer instruction: %w", err)
	}

	hash, err := g.submitInstruction(signed)
	if err != nil {
		return "", err
	}

	custodyLogger.Info().
		Uint64("vaultId", uint64(vaultID)).
		Int("moveCount", len(moves)).
		Str("hash", hash).
		Msg("Leg moves submitted to custody")

	return hash, nil
}

// validateLegMoves validates the rebalance moves before submission
func validateLegMoves(vaultID types.VaultID, assetDenom string, moves []planner.LegMove) error {
	if vaultID == 0 {
		return errors.Join(ErrInvalidVaultID, errors.New("vault ID cannot be zero"))
	}
	if err := sdk.ValidateDenom(assetDenom); err != nil {
		return errors.Join(ErrInvalidMoveData, fmt.Errorf("invalid asset denom %q: %w", assetDenom, err))
	}
	if len(moves) == 0 {
		return errors.Join(ErrInvalidMoveData, errors.New("move list cannot be empty"))
	}
	for i, move := range moves {
		if move.Leg < 0 {
			return errors.Join(ErrInvalidMoveData, fmt.Errorf("move %d has negative leg index %d", i, move.Leg))
		}
		if move.Direction != planner.MoveReduce && move.Direction != planner.MoveIncrease {
			return errors.Join(ErrInvalidMoveData, fmt.Errorf("move %d has unknown direction %q", i, move.Direction))
		}
		if move.Amount.IsNil() || !move.Amount.IsPositive() {
			return errors.Join(ErrInvalidMoveData, fmt.Errorf("move %d has non-positive amount", i))
		}
	}
	return nil
}

// PayOutFees signs and submits a fee payout to the given recipient. Returns
// the instruction hash the custody service accepted.
func (g *LiveGateway) PayOutFees(vaultID types.VaultID, recipient string, amount sdk.Coin) (string, error) {
	if err := g.validateState(); err != nil {
		return "", err
	}
	if vaultID == 0 {
		return "", errors.Join(ErrInvalidVaultID, errors.New("vault ID cannot be zero"))
	}
	if recipient == "" {
		return "", errors.Join(types.ErrValidation, errors.New("recipient cannot be empty"))
	}
	if err := amount.Validate(); err != nil {
		return "", errors.Join(types.ErrValidation, fmt.Errorf("invalid payout amount: %w", err))
	}
	if amount.IsZero() {
		return "", errors.Join(types.ErrValidation, errors.New("payout amount cannot be zero"))
	}
	if err := g.ensureConnection(); err != nil {
		custodyLogger.Error().Err(err).Msg("Failed to ensure connection for PayOutFees")
		return "", errors.Join(ErrConnectionFailed, err)
	}

	sequence, err := g.fetchSequence()
	if err != nil {
		return "", err
	}

	instruction, err := g.builder.BuildTreasuryTransferInstruction(vaultID, recipient, amount, sequence, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("failed to build treasury transfer instruction: %w", err)
	}

	signed, err := g.builder.SignInstruction(instruction)
	if err != nil {
		return "", fmt.Errorf("failed to sign treasury transfer instruction: %w", err)
	}

	hash, err := g.submitInstruction(signed)
	if err != nil {
		return "", err
	}

	custodyLogger.Info().
		Uint64("vaultId", uint64(vaultID)).
		Str("recipient", recipient).
		Str("amount", amount.String()).
		Str("hash", hash).
		Msg("Fee payout submitted to custody")

	return hash, nil
}

// fetchSequence asks the custody service for the signer's next instruction
// sequence. Sequences are fetched immediately before each submission; a
// cached value would go stale as soon as another instruction lands.
func (g *LiveGateway) fetchSequence() (uint64, error) {
	var result sequenceResult
	if err := g.rpcCall("custody_sequence", sequenceParams{Account: g.signer.Address()}, &result); err != nil {
		return 0, err
	}
	return result.Sequence, nil
}

// submitInstruction delivers a signed instruction and verifies the custody
// service accepted it under the hash we computed. Submissions are never
// retried here: a resubmit with a stale sequence would be rejected anyway,
// and the next cycle re-plans from fresh state.
func (g *LiveGateway) submitInstruction(signed wallet.SignedInstruction) (string, error) {
	var result submitResult
	if err := g.rpcCall("custody_submitInstruction", submitParams{Instruction: signed}, &result); err != nil {
		return "", err
	}

	if !result.Accepted {
		return "", errors.Join(ErrInstructionRejected, fmt.Errorf("custody rejected instruction %s: %s", signed.Hash, result.Log))
	}
	if result.Hash != signed.Hash {
		return "", errors.Join(ErrInvalidResponse, fmt.Errorf("custody acknowledged hash %s for submitted hash %s", result.Hash, signed.Hash))
	}

	return result.Hash, nil
}

// Healthy probes the custody service over gRPC health checking.
func (g *LiveGateway) Healthy() error {
	if err := g.validateState(); err != nil {
		return err
	}
	if err := g.ensureConnection(); err != nil {
		return errors.Join(ErrServiceUnhealthy, err)
	}

	ctx, cancel := context.WithTimeout(g.ctx, healthTimeout)
	defer cancel()

	resp, err := g.healthClient.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return errors.Join(ErrServiceUnhealthy, fmt.Errorf("health check failed: %w", err))
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		return errors.Join(ErrServiceUnhealthy, fmt.Errorf("custody service reported status %s", resp.Status.String()))
	}

	return nil
}

// rpcCall executes one JSON-RPC request against the custody endpoint and
// decodes the result into out.
func (g *LiveGateway) rpcCall(method string, params any, out any) error {
	requestID := g.requestID.Add(1)

	payload, err := json.Marshal(JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      requestID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Join(ErrRPCRequestFailed, fmt.Errorf("failed to marshal %s request: %w", method, err))
	}

	ctx, cancel := context.WithTimeout(g.ctx, rpcTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.rpcEndpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Join(ErrRPCRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return errors.Join(ErrRPCRequestFailed, fmt.Errorf("%s request failed: %w", method, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Join(ErrRPCRequestFailed, fmt.Errorf("custody service returned status %d for %s", resp.StatusCode, method))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Join(ErrRPCRequestFailed, err)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return errors.Join(ErrInvalidResponse, fmt.Errorf("failed to parse %s response: %w", method, err))
	}
	if rpcResp.Error != nil {
		return errors.Join(ErrRPCRequestFailed, fmt.Errorf("custody service error %d on %s: %s", rpcResp.Error.Code, method, rpcResp.Error.Message))
	}
	if rpcResp.ID != requestID {
		return errors.Join(ErrInvalidResponse, fmt.Errorf("response ID %d does not match request ID %d", rpcResp.ID, requestID))
	}
	if rpcResp.Result == nil {
		return errors.Join(ErrInvalidResponse, fmt.Errorf("no result for %s", method))
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return errors.Join(ErrInvalidResponse, fmt.Errorf("failed to decode %s result: %w", method, err))
	}

	return nil
}

// isConnected checks if the gRPC connection is valid
func (g *LiveGateway) isConnected() bool {
	if g == nil || g.grpcConn == nil {
		return false
	}

	state := g.grpcConn.GetState()
	return state != connectivity.TransientFailure && state != connectivity.Shutdown
}

// ensureConnection ensures we have a valid gRPC connection
func (g *LiveGateway) ensureConnection() error {
	if g == nil {
		return errors.New("gateway is nil")
	}

	if !g.isConnected() {
		custodyLogger.Error().Msg("gRPC connection is invalid")
		return errors.Join(ErrConnectionFailed, errors.New("gRPC connection is not valid"))
	}

	return nil
}

// Close cleans up the gateway resources.
func (g *LiveGateway) Close() error {
	if g == nil {
		return errors.New("gateway is nil")
	}

	custodyLogger.Info().Msg("Closing custody gateway")

	if g.cancel != nil {
		g.cancel()
	}

	if g.grpcConn != nil {
		if err := g.grpcConn.Close(); err != nil {
			custodyLogger.Error().Err(err).Msg("Error closing gRPC connection")
			return fmt.Errorf("failed to close gRPC connection: %w", err)
		}
	}

	custodyLogger.Debug().Msg("Custody gateway closed successfully")
	return nil
}
