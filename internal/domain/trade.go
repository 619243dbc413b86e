package domain

// Trade is one market trade in the raw ledger. Immutable once written;
// duplicates on (chain, trade_id) are dropped at insert time.
type Trade struct {
	Chain       string
	TradeID     int64
	EventTimeMs int64
	BucketMs    int64 // 5-minute floor of EventTimeMs
	Price       float64
	Quantity    float64
	IsSellMaker bool
}
