package domain

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxAmount bounds every amount, balance and member total so that each one
// fits a signed 64-bit column.
const MaxAmount uint64 = math.MaxInt64

// Address identifies a creator, executive or member. Addresses are stored
// lowercase so that the same account never shows up under two spellings.
type Address string

func ParseAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

// IsZero reports whether a is empty or consists only of zero digits.
func (a Address) IsZero() bool {
	digits := strings.TrimPrefix(string(a), "0x")
	return strings.Trim(digits, "0") == ""
}

func (a Address) String() string {
	return string(a)
}

type Association struct {
	AccountNumber  uint64
	Name           string
	Creator        Address
	Executives     []Address
	Balance        uint64
	MemberDeposits map[Address]uint64
	CreatedAt      time.Time
}

// ExcoNumber is the size of the executive set, which is also the quorum.
func (a *Association) ExcoNumber() int {
	return len(a.Executives)
}

func (a *Association) IsExecutive(addr Address) bool {
	if addr.IsZero() {
		return false
	}
	for _, e := range a.Executives {
		if e == addr {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, safe to mutate independently.
func (a *Association) Clone() *Association {
	c := *a
	c.Executives = append([]Address(nil), a.Executives...)
	c.MemberDeposits = make(map[Address]uint64, len(a.MemberDeposits))
	for k, v := range a.MemberDeposits {
		c.MemberDeposits[k] = v
	}
	return &c
}

type WithdrawalRequest struct {
	ID            uuid.UUID
	AccountNumber uint64
	Proposer      Address
	Amount        uint64
	Confirmations uint64
	Executed      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewWithdrawalRequest starts a fresh request instance for proposer. Any
// earlier slot for the same proposer is replaced by it, never merged.
func NewWithdrawalRequest(accountNumber uint64, proposer Address, amount uint64) *WithdrawalRequest {
	now := time.Now()
	return &WithdrawalRequest{
		ID:            uuid.New(),
		AccountNumber: accountNumber,
		Proposer:      proposer,
		Amount:        amount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

type CreateAssociationReq struct {
	Name       string    `json:"name" validate:"required,max=128"`
	ExcoNumber int       `json:"exco_number" validate:"gt=0"`
	Executives []Address `json:"executives" validate:"required,dive,eth_addr"`
}

type AmountReq struct {
	Amount uint64 `json:"amount" validate:"gt=0,lte=9223372036854775807"`
}
