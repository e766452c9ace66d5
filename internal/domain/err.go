package domain

import "errors"

var (
	ErrDuplicateCreator        = errors.New("creator already registered an association")
	ErrExecutiveCountMismatch  = errors.New("executive list length does not match executive count")
	ErrInvalidExecutiveAddress = errors.New("executive address must not be zero")
	ErrNotExecutive            = errors.New("caller is not an executive of the association")
	ErrZeroAmount              = errors.New("amount must be greater than zero")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrAlreadyExecuted         = errors.New("withdrawal already executed")
	ErrAlreadyConfirmed        = errors.New("withdrawal already confirmed by caller")
	ErrNotApprovedYet          = errors.New("withdrawal not approved")
	ErrTransferFailed          = errors.New("ledger transfer failed")
	ErrAssociationNotFound     = errors.New("association not found")
	ErrRequestNotFound         = errors.New("withdrawal request not found")
	ErrNotProposer             = errors.New("only the proposer can execute a withdrawal")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrMissingCaller           = errors.New("missing caller address")
	ErrInvalidAddress          = errors.New("invalid address")
	ErrBalanceOverflow         = errors.New("balance overflow")
)
