package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/meridian-labs/vre/internal/analyzer"
	"github.com/meridian-labs/vre/internal/config"
	"github.com/meridian-labs/vre/internal/custody"
	"github.com/meridian-labs/vre/internal/ledger"
	"github.com/meridian-labs/vre/internal/logger"
	"github.com/meridian-labs/vre/internal/metrics"
	"github.com/meridian-labs/vre/internal/oracle"
	"github.com/meridian-labs/vre/internal/planner"
	"github.com/meridian-labs/vre/internal/risk"
	"github.com/meridian-labs/vre/internal/simulations"
	"github.com/meridian-labs/vre/internal/state"
	"github.com/meridian-labs/vre/internal/types"
	"github.com/meridian-labs/vre/internal/utils"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Export constants for use in main.go
	DEFAULT_RISK_CONFIG_NAME    = "default_risk_profile"
	DEFAULT_RISK_CONFIG_VERSION = 1
)

// Engine represents the Vault Risk Engine with all its dependencies
type Engine struct {
	// Core dependencies
	logger     zerolog.Logger
	custody    custody.Gateway
	feed       oracle.PriceFeed
	riskParams *types.RiskParameters

	// Configuration
	operator       string
	configName     string
	configVersion  int
	maxSlippageBps int64

	// Runtime state
	cycleCount int
	vaultLocks *lockRegistry
}

// lockRegistry hands out one mutex per vault. The ledger packages assume a
// single writer per vault and perform no locking of their own; the registry
// is the host's side of that contract, so overlapping cycle invocations
// cannot interleave mutations of the same vault.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[types.VaultID]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[types.VaultID]*sync.Mutex)}
}

// forVault returns the mutex guarding the given vault, creating it on first use.
func (r *lockRegistry) forVault(id types.VaultID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}

// Config holds the configuration for creating a new Engine instance
type Config struct {
	Custody        custody.Gateway
	PriceFeed      oracle.PriceFeed
	RiskParams     *types.RiskParameters
	Operator       string
	ConfigName     string
	ConfigVersion  int
	MaxSlippageBps int64
}

// New creates a new Engine instance with dependency injection
func New(cfg Config) (*Engine, error) {
	// Validate required dependencies
	if err := validateEngineConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	engine := &Engine{
		logger:         logger.GetForComponent("engine_core"),
		custody:        cfg.Custody,
		feed:           cfg.PriceFeed,
		riskParams:     cfg.RiskParams,
		operator:       cfg.Operator,
		configName:     cfg.ConfigName,
		configVersion:  cfg.ConfigVersion,
		maxSlippageBps: cfg.MaxSlippageBps,
		cycleCount:     0,
		vaultLocks:     newLockRegistry(),
	}

	engine.logger.Info().
		Str("configName", engine.configName).
		Int("configVersion", engine.configVersion).
		Int64("maxSlippageBps", engine.maxSlippageBps).
		Msg("Engine instance created successfully with dependency injection")

	return engine, nil
}

// validateEngineConfig validates the engine configuration
func validateEngineConfig(cfg Config) error {
	if cfg.Custody == nil {
		return fmt.Errorf("custody gateway cannot be nil")
	}
	if cfg.PriceFeed == nil {
		return fmt.Errorf("price feed cannot be nil")
	}
	if cfg.RiskParams == nil {
		return fmt.Errorf("risk parameters cannot be nil")
	}
	if cfg.Operator == "" {
		return fmt.Errorf("operator address cannot be empty")
	}
	if cfg.ConfigName == "" {
		return fmt.Errorf("config name cannot be empty")
	}
	if cfg.ConfigVersion <= 0 {
		return fmt.Errorf("config version must be positive")
	}
	if cfg.MaxSlippageBps <= 0 {
		return fmt.Errorf("max slippage tolerance must be positive")
	}
	return nil
}

// RunLoop starts the main engine loop with the specified interval
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	e.logger.Info().
		Dur("interval", interval).
		Msg("Starting engine main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	e.cycleCount++
	e.logger.Info().Int("cycle", e.cycleCount).Msg("Initiating engine cycle")
	e.RunCycle(ctx)
	e.logger.Info().Int("cycle", e.cycleCount).Msg("Engine cycle completed")

	// Continue with ticker
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Engine loop stopped due to context cancellation")
			return
		case <-ticker.C:
			e.cycleCount++
			e.logger.Info().Int("cycle", e.cycleCount).Msg("Initiating engine cycle")
			e.RunCycle(ctx)
			e.logger.Info().Int("cycle", e.cycleCount).Msg("Engine cycle completed")
		}
	}
}

// RunCycle executes one complete accounting cycle: settle custody flows,
// harvest and pay out fees, sweep leveraged positions, then evaluate and
// execute rebalances.
func (e *Engine) RunCycle(ctx context.Context) {
	cycleStartTime := time.Now()
	now := cycleStartTime.Unix()

	// Generate unique cycle ID for tracing logs across the entire cycle
	cycleID := uuid.New().String()
	cycleLogger := e.logger.With().Str("cycle_id", cycleID).Logger()

	cycleLogger.Info().Msg("--- Starting Engine Cycle ---")

	// --- Initialize Cycle Snapshot ---
	snapshot := state.CycleSnapshot{
		CycleNumber:       e.getCycleNumber(), // Global cycle counter
		CycleID:           cycleID,
		Timestamp:         cycleStartTime,
		RiskParamsID:      e.getRiskParamsID(), // Helper to get current params ID
		InstructionHashes: make([]string, 0),
	}

	cycleLogger.Info().
		Int("cycleNumber", snapshot.CycleNumber).
		Time("timestamp", cycleStartTime).
		Msg("Cycle snapshot initialized")

	// --- Step 0: Preconditions ---
	protocolCfg, err := state.LoadProtocolConfig()
	if err != nil {
		e.failCycle(cycleLogger, snapshot, cycleStartTime, "Failed to load protocol config.", err)
		return
	}
	if protocolCfg == nil {
		e.failCycle(cycleLogger, snapshot, cycleStartTime, "Protocol config is not seeded.", nil)
		return
	}
	if protocolCfg.Paused {
		cycleLogger.Warn().Msg("Protocol is paused. Nothing to do.")
		snapshot.DurationMs = time.Since(cycleStartTime).Milliseconds()
		e.saveCycleSnapshot(snapshot)
		metrics.CyclesTotal.Inc()
		return
	}
	if err := e.custody.Healthy(); err != nil {
		e.failCycle(cycleLogger, snapshot, cycleStartTime, "Custody service is unhealthy.", err)
		return
	}

	// --- Step 1: Load Vault Ledgers ---
	cycleLogger.Info().Msg("Step 1: Loading vault ledgers...")
	vaults, err := state.LoadAllVaults()
	if err != nil {
		e.failCycle(cycleLogger, snapshot, cycleStartTime, "Failed to load vault ledgers.", err)
		return
	}
	if len(vaults) == 0 {
		cycleLogger.Info().Msg("No vaults configured. Nothing to do.")
		snapshot.DurationMs = time.Since(cycleStartTime).Milliseconds()
		e.saveCycleSnapshot(snapshot)
		metrics.CyclesTotal.Inc()
		return
	}
	snapshot.VaultsBefore = cloneVaults(vaults)
	cycleLogger.Info().Int("vaults", len(vaults)).Msg("Step 1: Vault ledgers loaded.")

	// --- Step 2: Apply Settled Custody Flows ---
	cycleLogger.Info().Msg("Step 2: Applying settled custody flows...")
	flowsApplied := 0
	for i := range vaults {
		flowsApplied += e.applySettledFlows(cycleLogger, &vaults[i], now)
	}
	cycleLogger.Info().Int("flowsApplied", flowsApplied).Msg("Step 2: Settled flows applied.")

	// --- Step 3: Harvest & Fee Collection ---
	cycleLogger.Info().Msg("Step 3: Harvesting due vaults...")
	for i := range vaults {
		if result, ok := e.harvestVault(cycleLogger, &vaults[i], now); ok {
			snapshot.Harvests = append(snapshot.Harvests, result)
		}
		e.collectAccruedFees(cycleLogger, protocolCfg, &vaults[i], &snapshot, now)
	}
	cycleLogger.Info().Int("harvests", len(snapshot.Harvests)).Msg("Step 3: Harvest pass complete.")

	// --- Step 4: Position Risk Sweep ---
	cycleLogger.Info().Msg("Step 4: Sweeping leveraged positions...")
	for i := range vaults {
		e.sweepPositions(ctx, cycleLogger, &vaults[i], &snapshot, now)
	}
	cycleLogger.Info().Int("liquidations", len(snapshot.Liquidations)).Msg("Step 4: Risk sweep complete.")

	// --- Step 5: Rebalance Evaluation & Execution ---
	cycleLogger.Info().Msg("Step 5: Evaluating rebalances...")
	for i := range vaults {
		e.rebalanceVault(cycleLogger, &vaults[i], &snapshot, now)
	}
	cycleLogger.Info().Int("evaluations", len(snapshot.Rebalances)).Msg("Step 5: Rebalance pass complete.")

	// --- Step 6: Final State Capture ---
	cycleLogger.Info().Msg("Step 6: Capturing final vault state...")
	finalVaults, err := state.LoadAllVaults()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to reload final vault state, using in-memory ledgers.")
		finalVaults = vaults
	}
	snapshot.VaultsAfter = finalVaults
	snapshot.DurationMs = time.Since(cycleStartTime).Milliseconds()
	e.saveCycleSnapshot(snapshot)
	e.exportVaultGauges(finalVaults)

	metrics.CyclesTotal.Inc()
	metrics.CycleDurationSeconds.Observe(time.Since(cycleStartTime).Seconds())

	cycleLogger.Info().
		Int("flowsApplied", flowsApplied).
		Int("harvests", len(snapshot.Harvests)).
		Int("liquidations", len(snapshot.Liquidations)).
		Int("instructions", len(snapshot.InstructionHashes)).
		Str("cycleDuration", time.Since(cycleStartTime).String()).
		Msg("--- Engine Cycle Completed ---")
}

// applySettledFlows fetches the vault's settled custody flows and applies
// each one to the ledger exactly once. Flows the ledger refuses stay
// unacknowledged so they resurface every cycle until an operator resolves
// them; flows that were applied before a failed acknowledgement are re-acked
// without touching the ledger again.
func (e *Engine) applySettledFlows(cycleLogger zerolog.Logger, vault *types.VaultLedger, now int64) int {
	lock := e.vaultLocks.forVault(vault.VaultID)
	lock.Lock()
	defer lock.Unlock()

	flows, err := e.custody.SettledFlows(vault.VaultID)
	if err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Failed to fetch settled flows")
		return 0
	}
	if len(flows) == 0 {
		return 0
	}

	applied := 0
	ackIDs := make([]string, 0, len(flows))
	for _, flow := range flows {
		alreadyApplied, err := state.WasFlowApplied(flow.FlowID)
		if err != nil {
			cycleLogger.Error().Err(err).Str("flowId", flow.FlowID).Msg("Failed to check flow idempotency, flow deferred")
			continue
		}
		if alreadyApplied {
			// A previous acknowledgement failed and custody re-delivered the flow.
			ackIDs = append(ackIDs, flow.FlowID)
			continue
		}

		if err := e.applyFlow(cycleLogger, vault, flow, now); err != nil {
			metrics.FlowsRejectedTotal.Inc()
			cycleLogger.Error().Err(err).
				Str("flowId", flow.FlowID).
				Str("account", flow.Account).
				Uint64("vaultId", uint64(vault.VaultID)).
				Msg("Flow refused, left unacknowledged for operator review")
			continue
		}
		metrics.FlowsAppliedTotal.WithLabelValues(string(flow.Direction)).Inc()
		ackIDs = append(ackIDs, flow.FlowID)
		applied++
	}

	if len(ackIDs) > 0 {
		if err := e.custody.AcknowledgeFlows(vault.VaultID, ackIDs); err != nil {
			// Applied flows are recorded in applied_flows, so re-delivery cannot double-apply.
			cycleLogger.Error().Err(err).
				Uint64("vaultId", uint64(vault.VaultID)).
				Int("count", len(ackIDs)).
				Msg("Failed to acknowledge flows, custody will re-deliver them")
		}
	}
	return applied
}

// applyFlow settles one custody flow against the vault ledger. The mutated
// vault, the account's share balance and the idempotency record are committed
// in a single transaction before the in-memory ledger is advanced.
func (e *Engine) applyFlow(cycleLogger zerolog.Logger, vault *types.VaultLedger, flow custody.Flow, now int64) error {
	kind, err := classifyFlow(vault, flow)
	if err != nil {
		return err
	}

	balance, err := state.GetShareBalance(vault.VaultID, flow.Account)
	if err != nil {
		return err
	}

	next := vault.Clone()
	var event types.Event

	switch kind {
	case flowKindDeposit:
		shares, err := ledger.Deposit(&next, flow.Amount.Amount)
		if err != nil {
			return err
		}
		balance.Shares = balance.Shares.Add(shares)
		event = types.NewEvent(types.EventDepositMade, vault.VaultID, now).
			With("assets", flow.Amount.Amount.String()).
			With("shares_minted", shares.String()).
			With("flow_id", flow.FlowID)

	case flowKindWithdrawal:
		assetsOut, err := ledger.Withdraw(&next, flow.Amount.Amount, balance.Shares)
		if err != nil {
			return err
		}
		balance.Shares = balance.Shares.Sub(flow.Amount.Amount)
		event = types.NewEvent(types.EventWithdrawalMade, vault.VaultID, now).
			With("shares_burned", flow.Amount.Amount.String()).
			With("assets_out", assetsOut.String()).
			With("flow_id", flow.FlowID)
	}
	event.Owner = flow.Account

	err = state.PersistAppliedFlow(next, balance, flow.FlowID, string(flow.Direction), flow.Amount.Amount, flow.Amount.Denom, flow.SettledAt)
	if err != nil {
		return err
	}
	*vault = next

	if _, err := state.RecordEvent(event); err != nil {
		// The flow itself is committed; losing the audit event is tolerable.
		cycleLogger.Error().Err(err).Str("flowId", flow.FlowID).Msg("Failed to record flow event")
	}
	return nil
}

// harvestVault settles accrued yield for one vault. Rewards are derived from
// the custody valuation of the strategy legs, so a vault whose legs gained
// nothing still pays its management fee on schedule.
func (e *Engine) harvestVault(cycleLogger zerolog.Logger, vault *types.VaultLedger, now int64) (ledger.HarvestResult, bool) {
	lock := e.vaultLocks.forVault(vault.VaultID)
	lock.Lock()
	defer lock.Unlock()

	if vault.Paused {
		cycleLogger.Debug().Uint64("vaultId", uint64(vault.VaultID)).Msg("Vault paused, harvest skipped")
		return ledger.HarvestResult{}, false
	}
	if !vault.TotalAssets.IsPositive() {
		cycleLogger.Debug().Uint64("vaultId", uint64(vault.VaultID)).Msg("Vault holds no assets, harvest skipped")
		return ledger.HarvestResult{}, false
	}
	if vault.HarvestCooldownSeconds > 0 && now-vault.LastHarvestTime < vault.HarvestCooldownSeconds {
		cycleLogger.Debug().
			Uint64("vaultId", uint64(vault.VaultID)).
			Int64("remainingSeconds", vault.HarvestCooldownSeconds-(now-vault.LastHarvestTime)).
			Msg("Harvest cooldown active, skipped")
		return ledger.HarvestResult{}, false
	}

	legValues, err := e.custody.LegValues(vault.VaultID)
	if err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Failed to fetch leg values, harvest skipped")
		return ledger.HarvestResult{}, false
	}
	custodyTotal, err := analyzer.TotalDeployedValue(legValues)
	if err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Custody leg values rejected, harvest skipped")
		return ledger.HarvestResult{}, false
	}
	rewards := rewardsFromCustody(custodyTotal, vault.TotalAssets)

	next := vault.Clone()
	result, err := ledger.Harvest(&next, rewards, now)
	if err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Harvest settlement failed")
		return ledger.HarvestResult{}, false
	}
	if err := state.SaveVault(next); err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Failed to persist harvested vault, ledger unchanged")
		return ledger.HarvestResult{}, false
	}
	*vault = next

	if _, err := state.SaveHarvestReceipt(result); err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Failed to save harvest receipt")
	}
	event := types.NewEvent(types.EventHarvestCompleted, vault.VaultID, now).
		With("rewards", result.Rewards.String()).
		With("management_fee", result.ManagementFee.String()).
		With("performance_fee", result.PerformanceFee.String()).
		With("apy_bps", result.APYBps.String())
	if _, err := state.RecordEvent(event); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to record harvest event")
	}
	metrics.HarvestsTotal.Inc()

	cycleLogger.Info().
		Uint64("vaultId", uint64(vault.VaultID)).
		Str("rewards", result.Rewards.String()).
		Str("managementFee", result.ManagementFee.String()).
		Str("performanceFee", result.PerformanceFee.String()).
		Str("apyBps", result.APYBps.String()).
		Msg("Vault harvested")
	return result, true
}

// collectAccruedFees sweeps a vault's accrued fees to the treasury. The
// accrual is cleared on a working copy first; the books only advance after
// custody accepts the payout, so a failed transfer leaves the accrual intact
// for the next cycle.
func (e *Engine) collectAccruedFees(cycleLogger zerolog.Logger, protocolCfg *types.ProtocolConfig, vault *types.VaultLedger, snapshot *state.CycleSnapshot, now int64) {
	lock := e.vaultLocks.forVault(vault.VaultID)
	lock.Lock()
	defer lock.Unlock()

	if vault.AccruedManagementFees.IsNil() || vault.AccruedPerformanceFees.IsNil() {
		return
	}
	owed := vault.AccruedManagementFees.Add(vault.AccruedPerformanceFees)
	if !owed.IsPositive() {
		return
	}

	next := vault.Clone()
	mgmtFee, perfFee, err := ledger.CollectFees(&next, protocolCfg, e.operator)
	if err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Fee collection refused")
		return
	}
	payout := mgmtFee.Add(perfFee)
	if !payout.IsPositive() {
		return
	}

	txHash, err := e.custody.PayOutFees(vault.VaultID, protocolCfg.Treasury, sdk.NewCoin(vault.AssetDenom, payout))
	if err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Fee payout failed, accrual left on the books")
		return
	}

	*vault = next
	if err := state.SaveVault(next); err != nil {
		cycleLogger.Error().Err(err).
			Uint64("vaultId", uint64(vault.VaultID)).
			Str("txHash", txHash).
			Msg("Fees paid out but cleared accrual not persisted, reconcile before next cycle")
	}

	snapshot.InstructionHashes = append(snapshot.InstructionHashes, txHash)
	metrics.InstructionsSubmittedTotal.WithLabelValues("treasury_transfer").Inc()

	event := types.NewEvent(types.EventFeesCollected, vault.VaultID, now).
		With("management_fee", mgmtFee.String()).
		With("performance_fee", perfFee.String()).
		With("treasury", protocolCfg.Treasury).
		With("tx_hash", txHash)
	if _, err := state.RecordEvent(event); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to record fee collection event")
	}

	cycleLogger.Info().
		Uint64("vaultId", uint64(vault.VaultID)).
		Str("managementFee", mgmtFee.String()).
		Str("performanceFee", perfFee.String()).
		Str("txHash", txHash).
		Msg("Accrued fees paid out to treasury")
}

// sweepPositions refreshes the health state of every open position in the
// vault and executes liquidations where eligible. The whole sweep runs
// against a single quote; a stale or missing quote skips the vault rather
// than liquidating against an unknown price.
func (e *Engine) sweepPositions(ctx context.Context, cycleLogger zerolog.Logger, vault *types.VaultLedger, snapshot *state.CycleSnapshot, now int64) {
	lock := e.vaultLocks.forVault(vault.VaultID)
	lock.Lock()
	defer lock.Unlock()

	positions, err := state.ListOpenPositions(vault.VaultID)
	if err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Failed to load open positions")
		return
	}
	if len(positions) == 0 {
		return
	}

	quote, err := e.feed.Latest(ctx, vault.AssetDenom)
	if err != nil {
		cycleLogger.Error().Err(err).
			Uint64("vaultId", uint64(vault.VaultID)).
			Str("denom", vault.AssetDenom).
			Msg("No price quote, risk sweep skipped")
		return
	}
	if err := oracle.Fresh(quote, now, e.riskParams.MaxQuoteAgeSeconds); err != nil {
		cycleLogger.Warn().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Quote too old for liquidation decisions, risk sweep skipped")
		return
	}

	for i := range positions {
		position := positions[i]
		previousState := position.State

		newState, err := risk.RefreshState(&position, *e.riskParams)
		if err != nil {
			cycleLogger.Error().Err(err).Str("owner", position.Owner).Msg("Failed to refresh position state")
			continue
		}
		if newState != previousState {
			if err := state.UpsertPosition(position); err != nil {
				cycleLogger.Error().Err(err).Str("owner", position.Owner).Msg("Failed to persist position state change")
				continue
			}
			cycleLogger.Warn().
				Str("owner", position.Owner).
				Uint64("vaultId", uint64(vault.VaultID)).
				Str("from", string(previousState)).
				Str("to", string(newState)).
				Msg("Position state changed")
		}
		if newState != types.PositionLiquidatable {
			continue
		}

		workVault := vault.Clone()
		result, err := risk.Liquidate(&position, &workVault, *e.riskParams, quote, now)
		if err != nil {
			if errors.Is(err, types.ErrNotLiquidatable) {
				continue
			}
			cycleLogger.Error().Err(err).Str("owner", position.Owner).Msg("Liquidation failed")
			continue
		}

		if _, err := state.PersistLiquidation(workVault, position, result); err != nil {
			cycleLogger.Error().Err(err).Str("owner", position.Owner).Msg("Failed to commit liquidation, ledger unchanged")
			continue
		}
		*vault = workVault

		snapshot.Liquidations = append(snapshot.Liquidations, result)
		mode := "partial"
		if result.Full {
			mode = "full"
		}
		metrics.LiquidationsTotal.WithLabelValues(mode).Inc()

		event := types.NewEvent(types.EventLiquidationExecuted, vault.VaultID, now).
			With("repaid", result.Repaid.String()).
			With("seized", result.Seized.String()).
			With("shares_burned", result.SharesBurned.String()).
			With("state_after", string(result.State))
		event.Owner = position.Owner
		if _, err := state.RecordEvent(event); err != nil {
			cycleLogger.Error().Err(err).Msg("Failed to record liquidation event")
		}
	}
}

// rebalanceVault measures allocation drift from custody leg values and, when
// a rebalance is due, simulates the plan against the slippage tolerance
// before submitting it. The vault's rebalance clock only advances after
// custody accepts the instruction.
func (e *Engine) rebalanceVault(cycleLogger zerolog.Logger, vault *types.VaultLedger, snapshot *state.CycleSnapshot, now int64) {
	lock := e.vaultLocks.forVault(vault.VaultID)
	lock.Lock()
	defer lock.Unlock()

	if vault.Paused || len(vault.TargetAllocations) == 0 {
		return
	}

	legValues, err := e.custody.LegValues(vault.VaultID)
	if err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Failed to fetch leg values, rebalance skipped")
		return
	}
	currentAllocations, err := analyzer.AllocationsFromValues(legValues)
	if err != nil {
		cycleLogger.Debug().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("No deployed value to rebalance")
		return
	}

	evaluation, err := planner.Evaluate(vault, currentAllocations, now)
	if err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Rebalance evaluation failed")
		return
	}
	snapshot.Rebalances = append(snapshot.Rebalances, evaluation)

	event := types.NewEvent(types.EventRebalanceEvaluated, vault.VaultID, now).
		With("max_deviation_bps", strconv.FormatInt(evaluation.MaxDeviationBps, 10)).
		With("due", strconv.FormatBool(evaluation.Due))
	if _, err := state.RecordEvent(event); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to record rebalance evaluation event")
	}

	if err := planner.RequireDue(evaluation); err != nil {
		cycleLogger.Debug().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Rebalance not due")
		metrics.RebalancesSkippedTotal.WithLabelValues("not_due").Inc()
		return
	}

	moves, err := planner.GenerateRebalancePlan(vault, evaluation)
	if err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Failed to generate rebalance plan")
		return
	}
	if len(moves) == 0 {
		return
	}

	if _, err := simulations.SimulatePlan(vault.VaultID, vault.AssetDenom, moves, e.maxSlippageBps); err != nil {
		if errors.Is(err, types.ErrSlippageExceeded) {
			cycleLogger.Warn().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Rebalance plan over slippage tolerance, deferred")
			metrics.RebalancesSkippedTotal.WithLabelValues("slippage").Inc()
			return
		}
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Plan simulation failed, rebalance skipped")
		return
	}

	txHash, err := e.custody.ExecuteLegMoves(vault.VaultID, vault.AssetDenom, moves)
	if err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Failed to submit rebalance instruction")
		return
	}
	snapshot.InstructionHashes = append(snapshot.InstructionHashes, txHash)
	metrics.InstructionsSubmittedTotal.WithLabelValues("leg_transfer").Inc()
	metrics.RebalancesTotal.Inc()

	next := vault.Clone()
	if err := planner.ConfirmExecuted(&next, now); err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Failed to stamp rebalance execution")
		return
	}
	if err := state.SaveVault(next); err != nil {
		cycleLogger.Error().Err(err).Uint64("vaultId", uint64(vault.VaultID)).Msg("Failed to persist rebalanced vault")
		return
	}
	*vault = next

	cycleLogger.Info().
		Uint64("vaultId", uint64(vault.VaultID)).
		Int("moves", len(moves)).
		Int64("maxDeviationBps", evaluation.MaxDeviationBps).
		Str("txHash", txHash).
		Msg("Rebalance plan executed")
}

// exportVaultGauges publishes per-vault gauges for the metrics endpoint.
// Gauge math is display-only; the ledger itself never leaves integer space.
func (e *Engine) exportVaultGauges(vaults []types.VaultLedger) {
	for _, vault := range vaults {
		asset := config.AssetForDenom(vault.AssetDenom)
		vaultLabel := strconv.FormatUint(uint64(vault.VaultID), 10)

		if total, err := utils.SDKIntToFloat64(vault.TotalAssets, asset.Decimals); err == nil {
			metrics.VaultTotalAssets.WithLabelValues(vaultLabel, vault.AssetDenom).Set(total)
		}
		nav := ledger.NavPerShare(vault.TotalAssets, vault.TotalShares)
		if navFloat, err := utils.SDKIntToFloat64(nav, asset.Decimals); err == nil {
			metrics.VaultNavPerShare.WithLabelValues(vaultLabel).Set(navFloat)
		}
	}
}

// failCycle records an aborted cycle so failures are visible in the snapshot
// history, not just the logs.
func (e *Engine) failCycle(cycleLogger zerolog.Logger, snapshot state.CycleSnapshot, cycleStartTime time.Time, reason string, err error) {
	cycleLogger.Error().Err(err).Msg("Cycle aborted: " + reason)
	snapshot.ErrorMessage = reason
	if err != nil {
		snapshot.ErrorMessage = fmt.Sprintf("%s: %v", reason, err)
	}
	snapshot.DurationMs = time.Since(cycleStartTime).Milliseconds()
	e.saveCycleSnapshot(snapshot)
	metrics.CycleFailuresTotal.Inc()
}

// getCycleNumber increments and returns the persistent cycle counter from database
func (e *Engine) getCycleNumber() int {
	cycleNumber, err := state.IncrementCycleNumber()
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to increment cycle number, using fallback")
		// Fallback to a simple counter if database fails
		return int(time.Now().Unix() % 1000000) // Use timestamp as fallback
	}
	return cycleNumber
}

// getRiskParamsID retrieves the current active risk parameters ID from database
func (e *Engine) getRiskParamsID() *int64 {
	paramsID, err := state.GetActiveRiskParametersID(e.configName)
	if err != nil {
		e.logger.Error().Err(err).Str("configName", e.configName).Msg("Failed to get active risk parameters ID")
		return nil
	}
	return paramsID
}

// saveCycleSnapshot saves the cycle snapshot to database
func (e *Engine) saveCycleSnapshot(snapshot state.CycleSnapshot) {
	snapshotID, err := state.SaveCycleSnapshot(snapshot)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to save cycle snapshot to database")
		return
	}
	e.logger.Info().Int64("snapshot_id", snapshotID).Msg("Cycle snapshot saved successfully")
}

func cloneVaults(vaults []types.VaultLedger) []types.VaultLedger {
	cloned := make([]types.VaultLedger, len(vaults))
	for i := range vaults {
		cloned[i] = vaults[i].Clone()
	}
	return cloned
}

// flowKind is the ledger operation a settled custody flow maps onto.
type flowKind int

const (
	flowKindDeposit flowKind = iota
	flowKindWithdrawal
)

// classifyFlow maps a settled custody flow onto a ledger operation. Inbound
// flows carry the vault's underlying denom and become deposits; outbound
// flows carry the share denom and become redemptions. Anything else is a
// custody bookkeeping error and must never touch the ledger.
func classifyFlow(vault *types.VaultLedger, flow custody.Flow) (flowKind, error) {
	switch flow.Direction {
	case custody.FlowInbound:
		if flow.Amount.Denom != vault.AssetDenom {
			return 0, fmt.Errorf("inbound flow %s carries %s, vault %d holds %s", flow.FlowID, flow.Amount.Denom, vault.VaultID, vault.AssetDenom)
		}
		return flowKindDeposit, nil
	case custody.FlowOutbound:
		if flow.Amount.Denom != vault.ShareDenom {
			return 0, fmt.Errorf("outbound flow %s carries %s, vault %d redeems %s", flow.FlowID, flow.Amount.Denom, vault.VaultID, vault.ShareDenom)
		}
		return flowKindWithdrawal, nil
	default:
		return 0, fmt.Errorf("flow %s has unknown direction %q", flow.FlowID, flow.Direction)
	}
}

// rewardsFromCustody derives harvestable rewards as the custody valuation in
// excess of the booked assets. Custody reporting less than the books is a
// loss, not negative rewards, so the result clamps at zero.
func rewardsFromCustody(custodyTotal, bookedAssets sdkmath.Int) sdkmath.Int {
	if custodyTotal.IsNil() || bookedAssets.IsNil() {
		return sdkmath.ZeroInt()
	}
	if custodyTotal.LTE(bookedAssets) {
		return sdkmath.ZeroInt()
	}
	return custodyTotal.Sub(bookedAssets)
}
