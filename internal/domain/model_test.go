package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestParseAddress(t *testing.T) {
	assert.Equal(t, Address("0xabcdef0000000000000000000000000000000001"),
		ParseAddress("  0xABCDEF0000000000000000000000000000000001 "))
}

func TestAddress_IsZero(t *testing.T) {
	tests := []struct {
		addr Address
		want bool
	}{
		{"", true},
		{"0x", true},
		{"0x0000000000000000000000000000000000000000", true},
		{"0x0000000000000000000000000000000000000001", false},
		{"0x1000000000000000000000000000000000000000", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.addr.IsZero(), string(tt.addr))
	}
}

func TestAssociation_IsExecutive(t *testing.T) {
	a := &Association{Executives: []Address{
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
	}}

	assert.Equal(t, 2, a.ExcoNumber())
	assert.True(t, a.IsExecutive("0x2222222222222222222222222222222222222222"))
	assert.False(t, a.IsExecutive("0x3333333333333333333333333333333333333333"))
	assert.False(t, a.IsExecutive("0x0000000000000000000000000000000000000000"))
}

func TestAssociation_Clone(t *testing.T) {
	a := &Association{
		AccountNumber:  7,
		Executives:     []Address{"0x1111111111111111111111111111111111111111"},
		MemberDeposits: map[Address]uint64{"0x4444444444444444444444444444444444444444": 10},
	}

	c := a.Clone()
	c.Executives[0] = "0x9999999999999999999999999999999999999999"
	c.MemberDeposits["0x4444444444444444444444444444444444444444"] = 99

	assert.Equal(t, uint64(7), c.AccountNumber)
	assert.Equal(t, Address("0x1111111111111111111111111111111111111111"), a.Executives[0])
	assert.Equal(t, uint64(10), a.MemberDeposits["0x4444444444444444444444444444444444444444"])
}

func TestNewWithdrawalRequest(t *testing.T) {
	first := NewWithdrawalRequest(3, "0x1111111111111111111111111111111111111111", 50)
	second := NewWithdrawalRequest(3, "0x1111111111111111111111111111111111111111", 50)

	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Zero(t, first.Confirmations)
	assert.False(t, first.Executed)
	assert.Equal(t, first.CreatedAt, first.UpdatedAt)
}
