package domain

// Transfer is one classified on-chain transaction in the raw ledger.
// ExchangeIn/ExchangeOut are fixed at ingest time from the static address
// registry. Whale classification is NOT done here; it happens at
// materialization against the then-current threshold, so buckets stay a pure
// function of the ledger.
type Transfer struct {
	Chain       string
	TxID        string
	BlockHeight int64
	EventTimeMs int64
	BucketMs    int64 // 5-minute floor of EventTimeMs
	Amount      float64
	Fee         float64
	ExchangeIn  float64 // portion of Amount sent to a known exchange address
	ExchangeOut float64 // portion of Amount sent from a known exchange address
}
