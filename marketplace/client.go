// Package marketplace is the JSON-over-HTTP client for the proposal, job,
// escrow and contract services.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/slashbinslashnoname/hire-checkout/models"
)

// IdempotencyHeader carries the checkout key on funding and contract calls
// and the discard key on refunds
const IdempotencyHeader = "Idempotency-Key"

// StatusError is a non-2xx answer from a collaborator
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Message)
}

// Client wraps the marketplace API
type Client struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewClient initializes a marketplace client. An empty token sends no
// Authorization header.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// GetJob fetches a job posting
func (c *Client) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/jobs/%d", jobID), nil, "", &job); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch job %d", jobID)
	}
	return &job, nil
}

// GetJobProposals lists every proposal submitted for a job
func (c *Client) GetJobProposals(ctx context.Context, jobID int64) ([]models.Proposal, error) {
	var proposals []models.Proposal
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/proposals/job/%d", jobID), nil, "", &proposals); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch proposals for job %d", jobID)
	}
	return proposals, nil
}

// SubmitProposal sends a freelancer's bid
func (c *Client) SubmitProposal(ctx context.Context, data models.ProposalSubmission) (*models.Proposal, error) {
	var proposal models.Proposal
	if err := c.do(ctx, http.MethodPost, "/api/proposals/my-proposals", data, "", &proposal); err != nil {
		return nil, errors.Wrap(err, "failed to submit proposal")
	}
	return &proposal, nil
}

// RejectProposal declines a bid before any payment
func (c *Client) RejectProposal(ctx context.Context, proposalID int64) error {
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/proposals/%d/reject", proposalID), nil, "", nil); err != nil {
		return errors.Wrapf(err, "failed to reject proposal %d", proposalID)
	}
	return nil
}

// FundEscrow moves the client's payment into escrow for a job
func (c *Client) FundEscrow(ctx context.Context, req models.FundEscrowRequest, idempotencyKey string) (*models.EscrowPayment, error) {
	var payment models.EscrowPayment
	if err := c.do(ctx, http.MethodPost, "/api/payments/escrow/fund", req, idempotencyKey, &payment); err != nil {
		return nil, errors.Wrapf(err, "failed to fund escrow for job %d", req.JobID)
	}
	if payment.Status == "failed" {
		return nil, errors.Errorf("escrow funding for job %d was declined", req.JobID)
	}
	return &payment, nil
}

// GetEscrow looks up the held payment for a job
func (c *Client) GetEscrow(ctx context.Context, jobID int64) (*models.Escrow, error) {
	var escrow models.Escrow
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/payments/escrow/milestone/%d", jobID), nil, "", &escrow); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch escrow for job %d", jobID)
	}
	return &escrow, nil
}

// Refund returns an escrow's funds to the client
func (c *Client) Refund(ctx context.Context, req models.RefundRequest, idempotencyKey string) error {
	if err := c.do(ctx, http.MethodPost, "/api/payments/escrow/refund", req, idempotencyKey, nil); err != nil {
		return errors.Wrapf(err, "failed to refund escrow %d", req.EscrowID)
	}
	return nil
}

// DiscardProposal refunds the full escrow held for a job with the given reason.
// Retries of the same discard must reuse idempotencyKey.
func (c *Client) DiscardProposal(ctx context.Context, jobID int64, reason, idempotencyKey string) error {
	escrow, err := c.GetEscrow(ctx, jobID)
	if err != nil {
		return err
	}
	return c.Refund(ctx, models.RefundRequest{
		EscrowID:    escrow.ID,
		AmountCents: escrow.AmountCents,
		Reason:      reason,
	}, idempotencyKey)
}

// CreateContract submits a contract for a funded proposal
func (c *Client) CreateContract(ctx context.Context, req models.CreateContractRequest, idempotencyKey string) (*models.Contract, error) {
	var contract models.Contract
	if err := c.do(ctx, http.MethodPost, "/api/contracts", req, idempotencyKey, &contract); err != nil {
		return nil, errors.Wrapf(err, "failed to create contract for proposal %d", req.ProposalID)
	}
	return &contract, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

// errorMessage pulls "message" or "error" out of an error body.
func errorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
