package models

import "time"

// AttemptStatus is where a checkout attempt stands in the ledger
type AttemptStatus string

const (
	// AttemptPending indicates the funding call has been dispatched
	AttemptPending AttemptStatus = "pending"
	// AttemptFunded indicates escrow holds the money but no contract exists yet
	AttemptFunded AttemptStatus = "funded"
	// AttemptContracted indicates the checkout completed
	AttemptContracted AttemptStatus = "contracted"
	// AttemptFailed indicates funding failed and no money moved
	AttemptFailed AttemptStatus = "failed"
	// AttemptPartialFailure indicates funding succeeded but contract creation failed
	AttemptPartialFailure AttemptStatus = "partial_failure"
)

// Attempt is one checkout run keyed by its idempotency key. Card data is
// never recorded beyond the detected brand.
type Attempt struct {
	ID              int64         `json:"id"`
	IdempotencyKey  string        `json:"idempotencyKey"`
	ProposalID      int64         `json:"proposalId"`
	JobID           int64         `json:"jobId"`
	AmountCents     int64         `json:"amountCents"`
	Currency        string        `json:"currency"`
	Brand           string        `json:"brand"`
	Status          AttemptStatus `json:"status"`
	EscrowPaymentID string        `json:"escrowPaymentId,omitempty"`
	ContractID      int64         `json:"contractId,omitempty"`
	Error           string        `json:"error,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// RefundStatus is the outcome of a discard
type RefundStatus string

const (
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

// Refund records one discard attempt with its reason
type Refund struct {
	ID         int64        `json:"id"`
	ProposalID int64        `json:"proposalId"`
	JobID      int64        `json:"jobId"`
	ContractID int64        `json:"contractId,omitempty"`
	Reason     string       `json:"reason"`
	Status     RefundStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}
