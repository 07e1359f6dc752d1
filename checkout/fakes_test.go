package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/slashbinslashnoname/hire-checkout/busy"
	"github.com/slashbinslashnoname/hire-checkout/models"
	"github.com/slashbinslashnoname/hire-checkout/proposals"
)

// fakeMarketplace stands in for the proposal, escrow and contract services.
type fakeMarketplace struct {
	mu sync.Mutex

	job       models.Job
	proposals []models.Proposal

	fundErr     error
	contractErr error
	discardErr  error
	rejectErr   error
	// fundBlock makes FundEscrow wait for ctx.
	fundBlock bool

	fundCalls     []models.FundEscrowRequest
	fundKeys      []string
	contractCalls []models.CreateContractRequest
	contractKeys  []string
	discards      []string
	discardKeys   []string
	rejects       []int64
	nextContract  int64
}

func (f *fakeMarketplace) GetJob(_ context.Context, jobID int64) (*models.Job, error) {
	if f.job.ID != jobID {
		return nil, errors.Errorf("job %d not found", jobID)
	}
	job := f.job
	return &job, nil
}

func (f *fakeMarketplace) GetJobProposals(_ context.Context, _ int64) ([]models.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Proposal(nil), f.proposals...), nil
}

func (f *fakeMarketplace) RejectProposal(_ context.Context, proposalID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, proposalID)
	return f.rejectErr
}

func (f *fakeMarketplace) FundEscrow(ctx context.Context, req models.FundEscrowRequest, key string) (*models.EscrowPayment, error) {
	f.mu.Lock()
	f.fundCalls = append(f.fundCalls, req)
	f.fundKeys = append(f.fundKeys, key)
	block, err := f.fundBlock, f.fundErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &models.EscrowPayment{ID: "pi_1", Status: "succeeded", AmountCents: req.AmountCents, Currency: req.Currency}, nil
}

func (f *fakeMarketplace) DiscardProposal(_ context.Context, _ int64, reason, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discards = append(f.discards, reason)
	f.discardKeys = append(f.discardKeys, key)
	return f.discardErr
}

func (f *fakeMarketplace) CreateContract(_ context.Context, req models.CreateContractRequest, key string) (*models.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contractCalls = append(f.contractCalls, req)
	f.contractKeys = append(f.contractKeys, key)
	if f.contractErr != nil {
		return nil, f.contractErr
	}
	f.nextContract++
	return &models.Contract{
		ID:               100 + f.nextContract,
		JobID:            req.JobID,
		ProposalID:       req.ProposalID,
		TotalAmountCents: req.TotalAmountCents,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
	}, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	attempts map[string]models.Attempt
	refunds  []models.Refund
	starts   int

	pendingErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{attempts: make(map[string]models.Attempt)}
}

func (l *fakeLedger) StartAttempt(a models.Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts++
	a.Status = models.AttemptPending
	l.attempts[a.IdempotencyKey] = a
	return nil
}

func (l *fakeLedger) update(key string, fn func(*models.Attempt)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.attempts[key]
	if !ok {
		return errors.Errorf("attempt %s not found", key)
	}
	fn(&a)
	l.attempts[key] = a
	return nil
}

func (l *fakeLedger) MarkFunded(key, paymentID string) error {
	return l.update(key, func(a *models.Attempt) { a.Status, a.EscrowPaymentID = models.AttemptFunded, paymentID })
}

func (l *fakeLedger) MarkContracted(key string, contractID int64) error {
	return l.update(key, func(a *models.Attempt) { a.Status, a.ContractID = models.AttemptContracted, contractID })
}

func (l *fakeLedger) MarkFailed(key, msg string) error {
	return l.update(key, func(a *models.Attempt) { a.Status, a.Error = models.AttemptFailed, msg })
}

func (l *fakeLedger) MarkPartialFailure(key, msg string) error {
	return l.update(key, func(a *models.Attempt) { a.Status, a.Error = models.AttemptPartialFailure, msg })
}

func (l *fakeLedger) RecordRefund(r models.Refund) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refunds = append(l.refunds, r)
	return nil
}

func (l *fakeLedger) PendingAttempt(proposalID int64) (*models.Attempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pendingErr != nil {
		return nil, l.pendingErr
	}
	for _, a := range l.attempts {
		if a.ProposalID == proposalID && (a.Status == models.AttemptFunded || a.Status == models.AttemptPartialFailure) {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (l *fakeLedger) attempt(key string) models.Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts[key]
}

var fixedNow = time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

type harness struct {
	svc    *Service
	market *fakeMarketplace
	ledger *fakeLedger
	store  *proposals.Store
	guard  *busy.MemoryGuard
}

func newHarness(list ...models.Proposal) *harness {
	h := &harness{
		market: &fakeMarketplace{
			job:       models.Job{ID: 3, ClientID: 11, Title: "Landing page", Currency: "usd", PaymentModel: models.PaymentFixed},
			proposals: list,
		},
		ledger: newFakeLedger(),
		store:  proposals.NewStore(),
		guard:  busy.NewMemoryGuard(),
	}
	for _, p := range list {
		h.store.Put(p)
	}
	h.svc = NewService(Options{
		Proposals:   h.market,
		Escrow:      h.market,
		Contracts:   h.market,
		Store:       h.store,
		Guard:       h.guard,
		Ledger:      h.ledger,
		ClientEmail: "client@example.com",
		Now:         func() time.Time { return fixedNow },
	})
	return h
}

func submitted(id int64, rate int64) models.Proposal {
	return models.Proposal{
		ID:           id,
		JobID:        3,
		FreelancerID: 21,
		ProposedRate: decimal.NewFromInt(rate),
		DeliveryDays: 5,
		Status:       models.StatusSubmitted,
	}
}

func contractedProposal(id, contractID int64) models.Proposal {
	p := submitted(id, 500)
	p.Status = models.StatusContracted
	p.ContractID = &contractID
	return p
}

func fillCard(s *Session) {
	_ = s.SetCardNumber("4242 4242 4242 4242")
	_ = s.SetExpiry("12/27")
	_ = s.SetCVV("123")
	_ = s.SetCardholderName("JANE DOE")
}
