package models

// Wallet is the user's internal ledger. Balance is authoritative at rest;
// InProvider holds what is currently deposited into a provider wallet for
// Session. All amounts are cents.
type Wallet struct {
	UserID     int64  `json:"user_id" redis:"user_id"`
	Balance    int64  `json:"balance" redis:"balance"`
	InProvider int64  `json:"in_provider" redis:"in_provider"`
	Family     string `json:"family,omitempty" redis:"family"`
	Session    string `json:"session,omitempty" redis:"session"`
}

type BalanceResponse struct {
	Balance    int64  `json:"balance"`
	InProvider int64  `json:"in_provider"`
	Total      int64  `json:"total"`
	Family     string `json:"family,omitempty"`
	Display    string `json:"display"`
}

func (w *Wallet) Response() BalanceResponse {
	return BalanceResponse{
		Balance:    w.Balance,
		InProvider: w.InProvider,
		Total:      w.Balance + w.InProvider,
		Family:     w.Family,
		Display:    FormatCurrency(w.Balance + w.InProvider),
	}
}
