package domain

// Supported chains. Each chain owns a disjoint set of rows in every table,
// so pollers and backfills for different chains never contend.
const (
	ChainEth = "eth"
	ChainBtc = "btc"
)

// SymbolByChain maps a chain to the market-data symbol its trade ledger is
// backfilled from.
var SymbolByChain = map[string]string{
	ChainEth: "ETHUSDT",
	ChainBtc: "BTCUSDT",
}

// Chains returns the supported chains in deterministic order.
func Chains() []string {
	return []string{ChainEth, ChainBtc}
}

// ValidChain reports whether chain is one of the supported chains.
func ValidChain(chain string) bool {
	_, ok := SymbolByChain[chain]
	return ok
}
