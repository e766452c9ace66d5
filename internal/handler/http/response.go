package http

import (
	"time"

	"treasury/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

type associationResponse struct {
	AccountNumber uint64           `json:"account_number"`
	Name          string           `json:"name"`
	Creator       domain.Address   `json:"creator"`
	Executives    []domain.Address `json:"executives"`
	ExcoNumber    int              `json:"exco_number"`
	Balance       uint64           `json:"balance"`
	CreatedAt     time.Time        `json:"created_at"`
}

func newAssociationResponse(a *domain.Association) associationResponse {
	return associationResponse{
		AccountNumber: a.AccountNumber,
		Name:          a.Name,
		Creator:       a.Creator,
		Executives:    a.Executives,
		ExcoNumber:    a.ExcoNumber(),
		Balance:       a.Balance,
		CreatedAt:     a.CreatedAt,
	}
}

type requestResponse struct {
	ID            string         `json:"id,omitempty"`
	AccountNumber uint64         `json:"account_number"`
	Proposer      domain.Address `json:"proposer"`
	Amount        uint64         `json:"amount"`
	Confirmations uint64         `json:"confirmations"`
	Executed      bool           `json:"executed"`
}

func newRequestResponse(r *domain.WithdrawalRequest) requestResponse {
	resp := requestResponse{
		AccountNumber: r.AccountNumber,
		Proposer:      r.Proposer,
		Amount:        r.Amount,
		Confirmations: r.Confirmations,
		Executed:      r.Executed,
	}
	if r.Amount > 0 {
		resp.ID = r.ID.String()
	}
	return resp
}

type executeResponse struct {
	Executed bool   `json:"executed"`
	Balance  uint64 `json:"balance"`
}
