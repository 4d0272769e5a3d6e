package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/meridian-labs/vre/internal/config"
	"github.com/meridian-labs/vre/internal/custody"
	"github.com/meridian-labs/vre/internal/engine"
	"github.com/meridian-labs/vre/internal/ledger"
	"github.com/meridian-labs/vre/internal/logger"
	"github.com/meridian-labs/vre/internal/oracle"
	"github.com/meridian-labs/vre/internal/state"
	"github.com/meridian-labs/vre/internal/types"
	"github.com/meridian-labs/vre/internal/wallet"
	"github.com/meridian-labs/vre/internal/web"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	// DEFAULT_MAX_SLIPPAGE_BPS caps estimated slippage per rebalance move at 1%.
	DEFAULT_MAX_SLIPPAGE_BPS = 100
)

// main is the entry point for the vault risk engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Vault Risk Engine starting...")

	// Initialize database connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load risk parameters, seeding the defaults on first run.
	riskParams, err := state.LoadActiveRiskParameters(engine.DEFAULT_RISK_CONFIG_NAME)
	if errors.Is(err, state.ErrNotFound) {
		log.Info().Msg("No active risk parameters found, seeding defaults.")
		defaultParams := config.DefaultRiskParameters
		if _, err := state.SaveRiskParameters(defaultParams, engine.DEFAULT_RISK_CONFIG_NAME, engine.DEFAULT_RISK_CONFIG_VERSION, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default risk parameters.")
		}
		riskParams = &defaultParams
		event := types.NewEvent(types.EventParamsUpdated, 0, time.Now().Unix()).
			With("config_name", engine.DEFAULT_RISK_CONFIG_NAME).
			With("config_version", strconv.Itoa(engine.DEFAULT_RISK_CONFIG_VERSION))
		if _, err := state.RecordEvent(event); err != nil {
			log.Error().Err(err).Msg("Failed to record parameter seed event")
		}
	} else if err != nil {
		log.Fatal().Err(err).Msg("Failed to load active risk parameters")
	}
	log.Info().Msg("Risk parameters loaded successfully.")

	// --- 2. Signing Identity & Protocol Seeding ---
	signer, err := wallet.NewSigningClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize signing client")
	}
	log.Info().Str("address", signer.Address()).Msg("Signing identity loaded")

	// Seed the protocol config on first run. The signing key becomes the
	// protocol authority so fee collection runs under the same identity
	// that signs custody instructions.
	protocolCfg, err := state.LoadProtocolConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load protocol config")
	}
	if protocolCfg == nil {
		seeded, err := ledger.InitProtocolConfig(
			signer.Address(), config.TreasuryAddress,
			config.DefaultManagementFeeBps, config.DefaultPerformanceFeeBps,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build initial protocol config")
		}
		if err := state.SaveProtocolConfig(seeded); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial protocol config")
		}
		log.Info().
			Str("authority", seeded.Authority).
			Str("treasury", seeded.Treasury).
			Msg("Protocol config seeded")
		protocolCfg = &seeded
	}

	// --- 3. Vault Provisioning ---
	vaults, err := state.LoadAllVaults()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list vaults")
	}
	if len(vaults) == 0 {
		denom := os.Getenv("VRE_SEED_VAULT_DENOM")
		if denom == "" {
			log.Warn().Msg("Ledger has no vaults and VRE_SEED_VAULT_DENOM is not set. Cycles will idle until a vault is provisioned.")
		} else if err := seedFirstVault(protocolCfg, denom); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed initial vault")
		}
	}
	reconcileVaultPauses(protocolCfg)

	// --- 4. Start Web Server ---
	webPort := strings.TrimPrefix(config.WebListenAddr, ":")
	webServer := web.NewWebServer(webPort, engine.DEFAULT_RISK_CONFIG_NAME)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting engine web dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Custody Gateway Initialization (with Safety Switch) ---
	var gateway custody.Gateway
	mode := os.Getenv("VRE_MODE")

	switch mode {
	case "live":
		log.Warn().Msg("Initializing engine in LIVE mode. Real custody instructions will be submitted.")
		liveGateway, err := custody.NewLiveGateway(config.CustodyRPC, config.CustodyGRPC, signer)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize live custody gateway")
		}
		defer liveGateway.Close()
		gateway = liveGateway
	case "sim":
		log.Warn().Msg("Initializing engine in SIM mode. Custody instructions stay in-process and move no funds.")
		gateway = custody.NewSimGateway()
	default:
		log.Fatal().Msg("VRE_MODE is not set to 'live' or 'sim'. Halting to prevent accidental execution.")
	}

	// Price feed client
	feed, err := oracle.NewFeedClient(config.PriceFeedRPC)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize price feed client")
	}

	// --- 6. Create Engine Instance with Dependency Injection ---
	log.Info().Msg("Creating engine instance with dependency injection...")

	engineConfig := engine.Config{
		Custody:        gateway,
		PriceFeed:      feed,
		RiskParams:     riskParams,
		Operator:       signer.Address(),
		ConfigName:     engine.DEFAULT_RISK_CONFIG_NAME,
		ConfigVersion:  engine.DEFAULT_RISK_CONFIG_VERSION,
		MaxSlippageBps: maxSlippageBps(),
	}

	engineInstance, err := engine.New(engineConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine instance")
	}

	log.Info().Msg("Engine instance created successfully")

	// --- 7. Start Engine Main Loop ---
	interval := time.Duration(config.CycleIntervalSeconds) * time.Second
	log.Info().Str("interval", interval.String()).Msg("Starting engine main loop")

	// Stop cleanly on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engineInstance.RunLoop(ctx, interval)
	log.Info().Msg("Engine stopped")
}

// seedFirstVault provisions vault 1 on an empty ledger so a fresh deployment
// has something to run cycles against. Strategy defaults to LP farming;
// thresholds and cooldowns follow the ledger defaults and can be retuned
// afterwards through the authority operations.
func seedFirstVault(cfg *types.ProtocolConfig, denom string) error {
	strategy := types.Strategy(os.Getenv("VRE_SEED_VAULT_STRATEGY"))
	if strategy == "" {
		strategy = types.StrategyLpFarming
	}
	now := time.Now().Unix()
	spec := ledger.InitVaultSpec{
		Strategy:          strategy,
		AssetDenom:        denom,
		ShareDenom:        "s" + strings.TrimPrefix(denom, "u"),
		LeverageCapBps:    types.LeverageFloorBps,
		MinDeposit:        sdkmath.OneInt(),
		TargetAllocations: []int64{types.BpsDenominator},
	}
	vault, err := ledger.InitVault(cfg, spec, now)
	if err != nil {
		return err
	}
	if err := state.SaveVault(vault); err != nil {
		return err
	}
	if err := state.SaveProtocolConfig(*cfg); err != nil {
		return err
	}
	event := types.NewEvent(types.EventVaultInitialized, vault.VaultID, now).
		With("strategy", string(vault.Strategy)).
		With("asset_denom", vault.AssetDenom).
		With("share_denom", vault.ShareDenom)
	event.Owner = cfg.Authority
	if _, err := state.RecordEvent(event); err != nil {
		log.Error().Err(err).Msg("Failed to record vault initialization event")
	}
	log.Info().
		Uint64("vault_id", uint64(vault.VaultID)).
		Str("strategy", string(vault.Strategy)).
		Str("asset_denom", vault.AssetDenom).
		Msg("Seeded initial vault")
	return nil
}

// reconcileVaultPauses applies the VRE_PAUSE_VAULTS / VRE_UNPAUSE_VAULTS boot
// overrides. Vaults named in neither list keep their stored state.
func reconcileVaultPauses(cfg *types.ProtocolConfig) {
	for _, id := range parseVaultIDList(os.Getenv("VRE_PAUSE_VAULTS")) {
		setVaultPaused(cfg, id, true)
	}
	for _, id := range parseVaultIDList(os.Getenv("VRE_UNPAUSE_VAULTS")) {
		setVaultPaused(cfg, id, false)
	}
}

// setVaultPaused loads, transitions and persists one vault, recording the
// pause event. A vault already in the requested state is left untouched.
func setVaultPaused(cfg *types.ProtocolConfig, id types.VaultID, paused bool) {
	vault, err := state.LoadVault(id)
	if err != nil {
		log.Error().Err(err).Uint64("vault_id", uint64(id)).Msg("Cannot apply pause override")
		return
	}
	if vault.Paused == paused {
		return
	}
	eventType := types.EventVaultUnpaused
	transition := ledger.UnpauseVault
	if paused {
		eventType = types.EventVaultPaused
		transition = ledger.PauseVault
	}
	if err := transition(vault, cfg, cfg.Authority); err != nil {
		log.Error().Err(err).Uint64("vault_id", uint64(id)).Msg("Pause override rejected")
		return
	}
	if err := state.SaveVault(*vault); err != nil {
		log.Error().Err(err).Uint64("vault_id", uint64(id)).Msg("Failed to persist pause override")
		return
	}
	event := types.NewEvent(eventType, id, time.Now().Unix())
	event.Owner = cfg.Authority
	if _, err := state.RecordEvent(event); err != nil {
		log.Error().Err(err).Uint64("vault_id", uint64(id)).Msg("Failed to record pause event")
	}
	log.Info().Uint64("vault_id", uint64(id)).Bool("paused", paused).Msg("Applied vault pause override")
}

// parseVaultIDList parses a comma-separated list of vault IDs, dropping
// entries that do not parse.
func parseVaultIDList(raw string) []types.VaultID {
	if raw == "" {
		return nil
	}
	var ids []types.VaultID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil || id == 0 {
			log.Warn().Str("value", part).Msg("Ignoring invalid vault ID in pause override")
			continue
		}
		ids = append(ids, types.VaultID(id))
	}
	return ids
}

// maxSlippageBps reads the optional slippage override from the environment.
func maxSlippageBps() int64 {
	if v := os.Getenv("VRE_MAX_SLIPPAGE_BPS"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			return parsed
		}
		log.Warn().Str("value", v).Msg("Invalid VRE_MAX_SLIPPAGE_BPS, using default")
	}
	return DEFAULT_MAX_SLIPPAGE_BPS
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
