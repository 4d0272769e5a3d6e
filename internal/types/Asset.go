/*

This is a custom type for assets which carries the denom metadata needed by the custody gateway and the dashboard.

*/

package types

type Asset struct {
	Symbol        string `json:"symbol"`         // e.g., "usdc"
	Denom         string `json:"denom"`          // e.g., "uusdc"
	Decimals      int    `json:"decimals"`       // e.g., 6 = 1_000_000 base units per token
	OracleSourced bool   `json:"oracle_sourced"` // Whether a price feed publishes quotes for this denom
}
