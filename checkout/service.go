// Package checkout runs the accept-and-hire pipeline: card collection, escrow
// funding, contract creation, and the discard and decline paths that follow.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/slashbinslashnoname/hire-checkout/apperr"
	"github.com/slashbinslashnoname/hire-checkout/busy"
	"github.com/slashbinslashnoname/hire-checkout/fees"
	"github.com/slashbinslashnoname/hire-checkout/logger"
	"github.com/slashbinslashnoname/hire-checkout/models"
	"github.com/slashbinslashnoname/hire-checkout/proposals"
)

// ProposalService reads jobs and proposals and rejects bids
type ProposalService interface {
	GetJob(ctx context.Context, jobID int64) (*models.Job, error)
	GetJobProposals(ctx context.Context, jobID int64) ([]models.Proposal, error)
	RejectProposal(ctx context.Context, proposalID int64) error
}

// EscrowService moves money in and out of escrow
type EscrowService interface {
	FundEscrow(ctx context.Context, req models.FundEscrowRequest, idempotencyKey string) (*models.EscrowPayment, error)
	DiscardProposal(ctx context.Context, jobID int64, reason, idempotencyKey string) error
}

// ContractService creates contracts
type ContractService interface {
	CreateContract(ctx context.Context, req models.CreateContractRequest, idempotencyKey string) (*models.Contract, error)
}

// Ledger records checkout attempts and refunds for reconciliation
type Ledger interface {
	StartAttempt(a models.Attempt) error
	MarkFunded(key, paymentID string) error
	MarkContracted(key string, contractID int64) error
	MarkFailed(key, errMsg string) error
	MarkPartialFailure(key, errMsg string) error
	RecordRefund(r models.Refund) error
	// PendingAttempt returns the latest funded attempt for a proposal that has
	// no contract yet, or nil.
	PendingAttempt(proposalID int64) (*models.Attempt, error)
}

// DiscardReasons are offered before free text
var DiscardReasons = []string{
	"Found a better proposal",
	"Budget constraints",
	"Project requirements changed",
	"Freelancer not responsive",
	"Timeline mismatch",
}

// Options wires a Service
type Options struct {
	Proposals ProposalService
	Escrow    EscrowService
	Contracts ContractService
	Store     *proposals.Store
	Guard     busy.Guard
	Ledger    Ledger

	// ClientEmail is used when a session carries none
	ClientEmail string
	// ProcessingTimeout bounds funding plus contract creation. Zero disables it.
	ProcessingTimeout time.Duration
	Now               func() time.Time
}

// Service drives proposals through checkout, discard and decline
type Service struct {
	proposalSvc ProposalService
	escrow      EscrowService
	contracts   ContractService
	store       *proposals.Store
	guard       busy.Guard
	ledger      Ledger

	clientEmail       string
	processingTimeout time.Duration
	now               func() time.Time

	mu   sync.RWMutex
	jobs map[int64]models.Job
	// funded escrows still waiting for a contract, by proposal
	pending map[int64]models.Attempt
}

func NewService(opts Options) *Service {
	s := &Service{
		proposalSvc:       opts.Proposals,
		escrow:            opts.Escrow,
		contracts:         opts.Contracts,
		store:             opts.Store,
		guard:             opts.Guard,
		ledger:            opts.Ledger,
		clientEmail:       opts.ClientEmail,
		processingTimeout: opts.ProcessingTimeout,
		now:               opts.Now,
		jobs:              make(map[int64]models.Job),
		pending:           make(map[int64]models.Attempt),
	}
	if s.store == nil {
		s.store = proposals.NewStore()
	}
	if s.guard == nil {
		s.guard = busy.NewMemoryGuard()
	}
	if s.ledger == nil {
		s.ledger = nopLedger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ProposalView is a proposal with the controls currently exposed for it
type ProposalView struct {
	models.Proposal
	proposals.Actions
}

// Refresh reloads a job and its proposals from the marketplace. Proposals with
// an action in flight keep their local entry.
func (s *Service) Refresh(ctx context.Context, jobID int64) ([]ProposalView, error) {
	job, err := s.proposalSvc.GetJob(ctx, jobID)
	if err != nil {
		return nil, s.transient(ctx, "load job", 0, jobID, err)
	}
	list, err := s.proposalSvc.GetJobProposals(ctx, jobID)
	if err != nil {
		return nil, s.transient(ctx, "load proposals", 0, jobID, err)
	}

	s.mu.Lock()
	s.jobs[jobID] = *job
	s.mu.Unlock()

	s.store.Load(jobID, list, func(id int64) bool { return busy.AnyBusy(ctx, s.guard, id) })
	return s.Proposals(ctx, jobID), nil
}

// Proposals lists the cached proposals of a job without a remote call
func (s *Service) Proposals(ctx context.Context, jobID int64) []ProposalView {
	list := s.store.List(jobID)
	views := make([]ProposalView, 0, len(list))
	for _, p := range list {
		views = append(views, s.view(ctx, p))
	}
	return views
}

// Proposal returns one cached proposal with its controls
func (s *Service) Proposal(ctx context.Context, id int64) (ProposalView, error) {
	p, err := s.store.Get(id)
	if err != nil {
		return ProposalView{}, err
	}
	return s.view(ctx, p), nil
}

func (s *Service) view(ctx context.Context, p models.Proposal) ProposalView {
	return ProposalView{
		Proposal: p,
		Actions: proposals.Available(p, func(a proposals.Action) bool {
			b, err := s.guard.Busy(ctx, busy.Kind(a), p.ID)
			return err != nil || b
		}),
	}
}

// Job returns the cached job, fetching it on a miss
func (s *Service) Job(ctx context.Context, jobID int64) (models.Job, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if ok {
		return job, nil
	}

	fetched, err := s.proposalSvc.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, s.transient(ctx, "load job", 0, jobID, err)
	}
	s.mu.Lock()
	s.jobs[jobID] = *fetched
	s.mu.Unlock()
	return *fetched, nil
}

// Open starts a checkout session for a SUBMITTED proposal. When an earlier
// attempt funded escrow but never got a contract, that attempt is resumed
// under its idempotency key instead of charging again.
func (s *Service) Open(ctx context.Context, proposalID int64) (*Session, error) {
	p, err := s.store.Guard(proposalID, proposals.ActionAccept)
	if err != nil {
		return nil, err
	}
	if b, err := s.guard.Busy(ctx, busy.Accept, proposalID); err != nil || b {
		return nil, apperr.ErrInProgress
	}
	job, err := s.Job(ctx, p.JobID)
	if err != nil {
		return nil, err
	}

	a, err := s.pendingAttempt(proposalID)
	if err != nil {
		return nil, err
	}
	if a != nil {
		logger.Warn(ctx, "resuming funded checkout", "proposal_id", p.ID, "job_id", p.JobID,
			"idempotency_key", a.IdempotencyKey, "escrow_payment_id", a.EscrowPaymentID)
		return ResumeSession(p, job, s.clientEmail, *a), nil
	}
	return NewSession(p, job, s.clientEmail), nil
}

func (s *Service) pendingAttempt(proposalID int64) (*models.Attempt, error) {
	s.mu.RLock()
	a, ok := s.pending[proposalID]
	s.mu.RUnlock()
	if ok {
		return &a, nil
	}
	// Without the ledger answer a new session could fund escrow twice.
	found, err := s.ledger.PendingAttempt(proposalID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up funded checkouts for proposal %d", proposalID)
	}
	return found, nil
}

// Submit validates the session and runs the processing phase: fund escrow,
// create the contract, then mark the proposal ACCEPTED. On failure the session
// returns to collecting with its fields intact.
func (s *Service) Submit(ctx context.Context, sess *Session) (*models.Contract, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}

	p := sess.Proposal()
	var contract *models.Contract
	err := busy.Do(ctx, s.guard, busy.Accept, p.ID, func() error {
		if b, err := s.guard.Busy(ctx, busy.Decline, p.ID); err != nil || b {
			return apperr.ErrInProgress
		}
		if _, err := s.store.Guard(p.ID, proposals.ActionAccept); err != nil {
			return err
		}
		pl, err := sess.begin()
		if err != nil {
			return err
		}

		contract, err = s.process(ctx, sess, pl)
		if err != nil {
			sess.fail()
		}
		return err
	})
	return contract, err
}

func (s *Service) process(ctx context.Context, sess *Session, pl payload) (*models.Contract, error) {
	// Processing cannot be cancelled by the caller, only bounded.
	ctx = context.WithoutCancel(ctx)
	if s.processingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.processingTimeout)
		defer cancel()
	}

	p, job, key := sess.Proposal(), sess.Job(), sess.ID()
	if pl.clientEmail == "" {
		pl.clientEmail = s.clientEmail
	}
	log := logger.WithContext(ctx).With("proposal_id", p.ID, "job_id", p.JobID, "idempotency_key", key)

	if !pl.funded {
		req := fundRequest(p, job, pl)
		if err := s.ledger.StartAttempt(models.Attempt{
			IdempotencyKey: key,
			ProposalID:     p.ID,
			JobID:          p.JobID,
			AmountCents:    req.AmountCents,
			Currency:       req.Currency,
			Brand:          string(pl.brand),
		}); err != nil {
			log.Error("failed to record checkout attempt", "error", err)
		}

		log.Info("funding escrow", "brand", pl.brand, "amount_cents", req.AmountCents)
		payment, err := s.escrow.FundEscrow(ctx, req, key)
		if err != nil {
			s.record(log, s.ledger.MarkFailed(key, err.Error()))
			return nil, s.transient(ctx, "fund escrow", p.ID, p.JobID, err)
		}
		sess.markFunded(payment)
		s.record(log, s.ledger.MarkFunded(key, payment.ID))
	} else {
		log.Info("escrow already funded, retrying contract creation")
	}

	req, err := BuildContractRequest(p, job, s.now())
	if err != nil {
		return nil, s.partial(ctx, sess, err)
	}
	contract, err := s.contracts.CreateContract(ctx, req, key)
	if err != nil {
		return nil, s.partial(ctx, sess, &apperr.ServiceError{Op: "create contract", Err: err})
	}

	s.record(log, s.ledger.MarkContracted(key, contract.ID))
	sess.succeed(contract)
	s.mu.Lock()
	delete(s.pending, p.ID)
	s.mu.Unlock()
	if _, err := s.store.Accept(p.ID, contract.ID); err != nil {
		log.Error("contract created but proposal could not be accepted", "contract_id", contract.ID, "error", err)
		return contract, err
	}
	log.Info("proposal accepted", "contract_id", contract.ID, "total", fees.Calculate(p.ProposedRate).Total.String())
	return contract, nil
}

// Discard cancels a CONTRACTED proposal: the escrow is refunded with reason
// and the proposal becomes DECLINED.
func (s *Service) Discard(ctx context.Context, proposalID int64, reason string) (models.Proposal, error) {
	reason = cleanText(reason)
	if reason == "" {
		v := &apperr.ValidationError{}
		v.Add("reason", "Please provide a reason for cancellation")
		return models.Proposal{}, v
	}

	var out models.Proposal
	err := busy.Do(ctx, s.guard, busy.Discard, proposalID, func() error {
		p, err := s.store.Guard(proposalID, proposals.ActionDiscard)
		if err != nil {
			return err
		}
		refund := models.Refund{ProposalID: p.ID, JobID: p.JobID, Reason: reason}
		if p.ContractID != nil {
			refund.ContractID = *p.ContractID
		}

		if err := s.escrow.DiscardProposal(ctx, p.JobID, reason, discardKey(p)); err != nil {
			refund.Status, refund.Error = models.RefundFailed, err.Error()
			s.record(logger.WithContext(ctx), s.ledger.RecordRefund(refund))
			return s.transient(ctx, "refund escrow", p.ID, p.JobID, err)
		}
		refund.Status = models.RefundSucceeded
		s.record(logger.WithContext(ctx), s.ledger.RecordRefund(refund))

		out, err = s.store.Discard(proposalID)
		if err == nil {
			logger.Info(ctx, "proposal discarded", "proposal_id", p.ID, "job_id", p.JobID)
		}
		return err
	})
	return out, err
}

// discardKey stays the same for every retry of one contract's discard
func discardKey(p models.Proposal) string {
	var contractID int64
	if p.ContractID != nil {
		contractID = *p.ContractID
	}
	return fmt.Sprintf("discard-%d-%d", p.ID, contractID)
}

// Decline rejects a SUBMITTED proposal
func (s *Service) Decline(ctx context.Context, proposalID int64) (models.Proposal, error) {
	var out models.Proposal
	err := busy.Do(ctx, s.guard, busy.Decline, proposalID, func() error {
		if b, err := s.guard.Busy(ctx, busy.Accept, proposalID); err != nil || b {
			return apperr.ErrInProgress
		}
		p, err := s.store.Guard(proposalID, proposals.ActionDecline)
		if err != nil {
			return err
		}
		if err := s.proposalSvc.RejectProposal(ctx, proposalID); err != nil {
			return s.transient(ctx, "reject proposal", p.ID, p.JobID, err)
		}
		out, err = s.store.Decline(proposalID)
		if err == nil {
			logger.Info(ctx, "proposal declined", "proposal_id", p.ID, "job_id", p.JobID)
		}
		return err
	})
	return out, err
}

func (s *Service) transient(ctx context.Context, op string, proposalID, jobID int64, err error) error {
	err = &apperr.ServiceError{Op: op, Err: err}
	logger.Error(ctx, "remote call failed", "op", op, "proposal_id", proposalID, "job_id", jobID,
		"kind", apperr.KindTransient, "error", err)
	return err
}

func (s *Service) partial(ctx context.Context, sess *Session, err error) error {
	p := sess.Proposal()
	s.mu.Lock()
	s.pending[p.ID] = sess.pending()
	s.mu.Unlock()
	if lerr := s.ledger.MarkPartialFailure(sess.ID(), err.Error()); lerr != nil {
		logger.Error(ctx, "failed to record partial failure", "idempotency_key", sess.ID(), "error", lerr)
	}
	logger.Error(ctx, "escrow funded but contract creation failed", "proposal_id", p.ID, "job_id", p.JobID,
		"idempotency_key", sess.ID(), "kind", apperr.KindPartialFailure, "error", err)
	return &apperr.PartialFailureError{
		ProposalID:     p.ID,
		JobID:          p.JobID,
		IdempotencyKey: sess.ID(),
		Err:            err,
	}
}

// record logs ledger failures. The ledger never blocks the money flow.
func (s *Service) record(log *slog.Logger, err error) {
	if err != nil {
		log.Error("ledger write failed", "error", err)
	}
}

type nopLedger struct{}

func (nopLedger) StartAttempt(models.Attempt) error { return nil }
func (nopLedger) MarkFunded(string, string) error { return nil }
func (nopLedger) MarkContracted(string, int64) error { return nil }
func (nopLedger) MarkFailed(string, string) error { return nil }
func (nopLedger) MarkPartialFailure(string, string) error { return nil }
func (nopLedger) RecordRefund(models.Refund) error { return nil }
func (nopLedger) PendingAttempt(int64) (*models.Attempt, error) { return nil, nil }
