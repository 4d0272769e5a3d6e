/*
The custody gateway reports balances and flows by on-chain denom.

This file contains the mapping of denoms to their display metadata (symbol and
decimals). The dashboard and the conversion helpers use it to turn raw base
units into human readable amounts.

If a denom doesn't have an entry here the engine falls back to the denom itself
as the symbol and 6 decimals. Because odds are it is a micro-denominated coin.

But for best practices try to keep this up to date.

*/

package config

import (
	"strings"

	"github.com/meridian-labs/vre/internal/types"
)

var (
	AssetRegistry = map[string]types.Asset{
		"uusdc": {Symbol: "USDC", Denom: "uusdc", Decimals: 6, OracleSourced: true},
		"uusdt": {Symbol: "USDT", Denom: "uusdt", Decimals: 6, OracleSourced: true},
		"uatom": {Symbol: "ATOM", Denom: "uatom", Decimals: 6, OracleSourced: true},
		"uosmo": {Symbol: "OSMO", Denom: "uosmo", Decimals: 6, OracleSourced: true},
		"utia":  {Symbol: "TIA", Denom: "utia", Decimals: 6, OracleSourced: true},
		"uakt":  {Symbol: "AKT", Denom: "uakt", Decimals: 6, OracleSourced: true},
		"untrn": {Symbol: "NTRN", Denom: "untrn", Decimals: 6, OracleSourced: true},
		"uwbtc": {Symbol: "WBTC", Denom: "uwbtc", Decimals: 8, OracleSourced: true},
		"uweth": {Symbol: "WETH", Denom: "uweth", Decimals: 18, OracleSourced: true},

		"shares": {Symbol: "SHARES", Denom: "shares", Decimals: 6, OracleSourced: false}, // Vault share denoms are never priced directly
	}
)

// AssetForDenom returns the registered metadata for a denom, or a synthetic
// 6-decimal entry when the denom is unknown.
func AssetForDenom(denom string) types.Asset {
	if asset, ok := AssetRegistry[denom]; ok {
		return asset
	}
	return types.Asset{
		Symbol:        strings.ToUpper(strings.TrimPrefix(denom, "u")),
		Denom:         denom,
		Decimals:      6,
		OracleSourced: false,
	}
}
