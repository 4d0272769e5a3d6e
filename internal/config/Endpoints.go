package config

import (
	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// CustodyRPC is the JSON-RPC endpoint of the custody gateway that settles
	// deposits, withdrawals and leg transfers.
	CustodyRPC string
	// CustodyGRPC is the gRPC endpoint of the custody gateway, used for health
	// probing before each cycle.
	CustodyGRPC string
	// PriceFeedRPC is the JSON-RPC endpoint of the oracle price feed.
	PriceFeedRPC string
	// WebListenAddr is the listen address of the dashboard and metrics server.
	WebListenAddr string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	CustodyRPC, err = getEnv("CUSTODY_RPC_ENDPOINT")
	if err != nil {
		return err
	}

	CustodyGRPC, err = getEnv("CUSTODY_GRPC_ENDPOINT")
	if err != nil {
		return err
	}

	PriceFeedRPC, err = getEnv("PRICE_FEED_RPC_ENDPOINT")
	if err != nil {
		return err
	}

	WebListenAddr, err = getEnv("WEB_LISTEN_ADDR")
	if err != nil {
		return err
	}

	log.Debug().
		Str("CustodyRPC", CustodyRPC).
		Str("CustodyGRPC", CustodyGRPC).
		Str("PriceFeedRPC", PriceFeedRPC).
		Str("WebListenAddr", WebListenAddr).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
