package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ProposalStatus represents the status of a proposal
type ProposalStatus string

const (
	// StatusSubmitted indicates a bid waiting for the client's decision
	StatusSubmitted ProposalStatus = "SUBMITTED"
	// StatusAccepted indicates a bid whose escrow is funded and contract created
	StatusAccepted ProposalStatus = "ACCEPTED"
	// StatusContracted indicates a contract confirmed by the contract service
	StatusContracted ProposalStatus = "CONTRACTED"
	// StatusDeclined indicates a contracted bid discarded with a refund
	StatusDeclined ProposalStatus = "DECLINED"
	// StatusRejected indicates a bid declined before any payment
	StatusRejected ProposalStatus = "REJECTED"
)

// HasContract reports whether a proposal in this status must carry a contract id.
func (s ProposalStatus) HasContract() bool {
	return s == StatusAccepted || s == StatusContracted
}

// PaymentModel is how a contract is billed
type PaymentModel string

const (
	PaymentFixed  PaymentModel = "FIXED"
	PaymentHourly PaymentModel = "HOURLY"
)

// FreelancerInfo is the freelancer summary the proposal service attaches to a bid
type FreelancerInfo struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Proposal represents one freelancer's bid on one job
type Proposal struct {
	ID             int64           `json:"id"`
	JobID          int64           `json:"jobId"`
	FreelancerID   int64           `json:"freelancerId"`
	ProposedRate   decimal.Decimal `json:"proposedRate"`
	DeliveryDays   int             `json:"deliveryDays"`
	CoverLetter    string          `json:"coverLetter"`
	PortfolioLinks string          `json:"portfolioLinks,omitempty"`
	Status         ProposalStatus  `json:"status"`
	ContractID     *int64          `json:"contractId,omitempty"`
	FreelancerInfo *FreelancerInfo `json:"freelancerInfo,omitempty"`
	CreatedAt      string          `json:"createdAt,omitempty"`
	UpdatedAt      string          `json:"updatedAt,omitempty"`
}

// Links splits the comma-joined portfolio links, dropping blanks.
func (p Proposal) Links() []string {
	var links []string
	for _, l := range strings.Split(p.PortfolioLinks, ",") {
		if l = strings.TrimSpace(l); l != "" {
			links = append(links, l)
		}
	}
	return links
}

// FreelancerName returns the display name of the bidder
func (p Proposal) FreelancerName() string {
	if p.FreelancerInfo != nil && p.FreelancerInfo.Name != "" {
		return p.FreelancerInfo.Name
	}
	return "Anonymous Freelancer"
}

// ProposalSubmission is the payload a freelancer sends when bidding
type ProposalSubmission struct {
	JobID           int64           `json:"jobId"`
	CoverLetter     string          `json:"coverLetter"`
	ProposedRate    decimal.Decimal `json:"proposedRate"`
	DeliveryDays    int             `json:"deliveryDays"`
	PortfolioLinks  string          `json:"portfolioLinks,omitempty"`
	AdditionalNotes string          `json:"additionalNotes,omitempty"`
}

// Job is the posting a proposal bids on
type Job struct {
	ID           int64        `json:"id"`
	ClientID     int64        `json:"clientId"`
	Title        string       `json:"title,omitempty"`
	ProjectName  string       `json:"projectName,omitempty"`
	Description  string       `json:"description,omitempty"`
	Currency     string       `json:"currency,omitempty"`
	BudgetType   string       `json:"budgetType,omitempty"`
	PaymentModel PaymentModel `json:"paymentModel,omitempty"`
}

// DisplayTitle prefers the legacy title and falls back to the project name
func (j Job) DisplayTitle() string {
	if j.Title != "" {
		return j.Title
	}
	return j.ProjectName
}

// Model returns the billing model, falling back to the budget type
func (j Job) Model() PaymentModel {
	if j.PaymentModel != "" {
		return j.PaymentModel
	}
	if j.BudgetType != "" {
		return PaymentModel(strings.ToUpper(j.BudgetType))
	}
	return PaymentFixed
}

// Contract is the agreement created once escrow is funded
type Contract struct {
	ID               int64        `json:"id"`
	JobID            int64        `json:"jobId"`
	ProposalID       int64        `json:"proposalId"`
	ClientID         int64        `json:"clientId"`
	FreelancerID     int64        `json:"freelancerId"`
	TotalAmountCents int64        `json:"totalAmountCents"`
	Currency         string       `json:"currency"`
	PaymentModel     PaymentModel `json:"paymentModel"`
	Status           string       `json:"status,omitempty"`
	StartDate        string       `json:"startDate"`
	EndDate          string       `json:"endDate"`
	TermsJSON        string       `json:"termsJson,omitempty"`
}

// CreateContractRequest is the payload sent to the contract service
type CreateContractRequest struct {
	JobID            int64        `json:"jobId"`
	ProposalID       int64        `json:"proposalId"`
	ClientID         int64        `json:"clientId"`
	FreelancerID     int64        `json:"freelancerId"`
	TotalAmountCents int64        `json:"totalAmountCents"`
	Currency         string       `json:"currency"`
	PaymentModel     PaymentModel `json:"paymentModel"`
	StartDate        string       `json:"startDate"`
	EndDate          string       `json:"endDate"`
	TermsJSON        string       `json:"termsJson"`
}

// FundEscrowRequest moves the client's payment into escrow for a job
type FundEscrowRequest struct {
	JobID           int64  `json:"jobId"`
	AmountCents     int64  `json:"amountCents"`
	Currency        string `json:"currency"`
	PaymentMethodID string `json:"paymentMethodId"`
	ClientEmail     string `json:"clientEmail"`
	ClientName      string `json:"clientName"`
	Description     string `json:"description"`
}

// EscrowPayment is the payment service's answer to a funding request
type EscrowPayment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// Escrow is the held payment for a job
type Escrow struct {
	ID          int64  `json:"id"`
	JobID       int64  `json:"jobId,omitempty"`
	AmountCents int64  `json:"amountCents"`
	Status      string `json:"status,omitempty"`
}

// RefundRequest returns an escrow's funds to the client
type RefundRequest struct {
	EscrowID    int64  `json:"escrowId"`
	AmountCents int64  `json:"amountCents"`
	Reason      string `json:"reason"`
}
