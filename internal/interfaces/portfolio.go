package interfaces

// PortfolioView is the read side of the portfolio ledger consulted by the risk manager.
type PortfolioView interface {
	Has(instrument string) bool
	TotalEquity() float64
	Cash() float64
}
