package checkout

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/slashbinslashnoname/hire-checkout/apperr"
	"github.com/slashbinslashnoname/hire-checkout/card"
	"github.com/slashbinslashnoname/hire-checkout/fees"
	"github.com/slashbinslashnoname/hire-checkout/models"
)

// Phase is where a checkout session stands
type Phase string

const (
	PhaseCollecting Phase = "collecting"
	PhaseProcessing Phase = "processing"
	PhaseSuccess    Phase = "success"
	PhaseClosed     Phase = "closed"
)

// Field names used in validation errors and partial updates
const (
	FieldCardNumber     = "cardNumber"
	FieldExpiry         = "expiry"
	FieldCVV            = "cvv"
	FieldCardholderName = "cardholderName"
	FieldClientEmail    = "clientEmail"
)

const minCardDigits = 13

// Session holds card details for one accept-and-hire attempt. Card data lives
// only here and is wiped when the session closes.
type Session struct {
	mu sync.Mutex

	key      string
	proposal models.Proposal
	job      models.Job
	phase    Phase

	cardNumber     string
	expiry         string
	cvv            string
	cardholderName string
	clientEmail    string

	payment  *models.EscrowPayment
	contract *models.Contract
}

// NewSession opens a collecting session for proposal p on job j
func NewSession(p models.Proposal, j models.Job, clientEmail string) *Session {
	return &Session{
		key:         uuid.NewString(),
		proposal:    p,
		job:         j,
		phase:       PhaseCollecting,
		clientEmail: clientEmail,
	}
}

// ResumeSession reopens a checkout whose escrow was funded under a's key but
// whose contract was never created. Submitting it only retries the contract.
func ResumeSession(p models.Proposal, j models.Job, clientEmail string, a models.Attempt) *Session {
	s := NewSession(p, j, clientEmail)
	s.key = a.IdempotencyKey
	s.payment = &models.EscrowPayment{
		ID:          a.EscrowPaymentID,
		Status:      "succeeded",
		AmountCents: a.AmountCents,
		Currency:    a.Currency,
	}
	return s
}

// ID is the session's idempotency key, shared by the fund and contract calls.
func (s *Session) ID() string { return s.key }

func (s *Session) Proposal() models.Proposal { return s.proposal }

func (s *Session) Job() models.Job { return s.job }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Funded reports whether escrow was already funded by an earlier submit.
func (s *Session) Funded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payment != nil
}

// awaitingContract reports a funded session that can still be submitted
func (s *Session) awaitingContract() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseCollecting && s.payment != nil
}

// Contract returns the contract once the session succeeded
func (s *Session) Contract() *models.Contract {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contract
}

// Fees is the breakdown for the proposal's rate
func (s *Session) Fees() fees.Breakdown {
	return fees.Calculate(s.proposal.ProposedRate)
}

func (s *Session) editable() error {
	switch s.phase {
	case PhaseCollecting:
		return nil
	case PhaseProcessing:
		return apperr.ErrSessionProcessing
	default:
		return apperr.ErrSessionClosed
	}
}

// SetCardNumber keeps the digits of raw, up to 16
func (s *Session) SetCardNumber(raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	digits := card.Digits(raw)
	if len(digits) > card.MaxDigits {
		digits = digits[:card.MaxDigits]
	}
	s.cardNumber = digits
	return nil
}

// SetExpiry stores raw rendered as MM/YY
func (s *Session) SetExpiry(raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	s.expiry = card.FormatExpiry(raw)
	return nil
}

// SetCVV keeps the digits of raw, up to 4
func (s *Session) SetCVV(raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	digits := card.Digits(raw)
	if len(digits) > card.MaxCVVDigits {
		digits = digits[:card.MaxCVVDigits]
	}
	s.cvv = digits
	return nil
}

func (s *Session) SetCardholderName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	s.cardholderName = name
	return nil
}

func (s *Session) SetClientEmail(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return err
	}
	s.clientEmail = strings.TrimSpace(email)
	return nil
}

// Update is a partial edit. Nil fields are left alone.
type Update struct {
	CardNumber     *string `json:"cardNumber"`
	Expiry         *string `json:"expiry"`
	CVV            *string `json:"cvv"`
	CardholderName *string `json:"cardholderName"`
	ClientEmail    *string `json:"clientEmail"`
}

// Apply runs the setter for every field present in u, stopping at the first error.
func (s *Session) Apply(u Update) error {
	setters := []struct {
		v   *string
		set func(string) error
	}{
		{u.CardNumber, s.SetCardNumber},
		{u.Expiry, s.SetExpiry},
		{u.CVV, s.SetCVV},
		{u.CardholderName, s.SetCardholderName},
		{u.ClientEmail, s.SetClientEmail},
	}
	for _, f := range setters {
		if f.v == nil {
			continue
		}
		if err := f.set(*f.v); err != nil {
			return err
		}
	}
	return nil
}

// Brand is derived from the current card number
func (s *Session) Brand() card.Brand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return card.Classify(s.cardNumber)
}

// Validate checks every field and reports all failures at once. A funded
// session needs no card data.
func (s *Session) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validate()
}

func (s *Session) validate() error {
	if s.payment != nil {
		return nil
	}
	v := &apperr.ValidationError{}
	if len(s.cardNumber) < minCardDigits {
		v.Add(FieldCardNumber, "Please enter a valid card number")
	}
	if len(s.expiry) != 5 {
		v.Add(FieldExpiry, "Please enter expiry date (MM/YY)")
	}
	if n := len(card.Digits(s.cvv)); n < 3 || n > 4 {
		v.Add(FieldCVV, "Please enter CVV")
	}
	if strings.TrimSpace(s.cardholderName) == "" {
		v.Add(FieldCardholderName, "Please enter cardholder name")
	}
	return v.OrNil()
}

// View is a display snapshot. It never carries the CVV or the full number.
type View struct {
	ID             string         `json:"sessionId"`
	ProposalID     int64          `json:"proposalId"`
	JobID          int64          `json:"jobId"`
	Phase          Phase          `json:"phase"`
	Brand          card.Brand     `json:"brand"`
	BrandLabel     string         `json:"brandLabel"`
	CardNumber     string         `json:"cardNumber,omitempty"`
	Expiry         string         `json:"expiry,omitempty"`
	CardholderName string         `json:"cardholderName,omitempty"`
	ClientEmail    string         `json:"clientEmail,omitempty"`
	Fees           fees.Breakdown `json:"fees"`
	Funded         bool           `json:"funded"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	brand := card.Classify(s.cardNumber)
	return View{
		ID:             s.key,
		ProposalID:     s.proposal.ID,
		JobID:          s.proposal.JobID,
		Phase:          s.phase,
		Brand:          brand,
		BrandLabel:     brand.Label(),
		CardNumber:     card.Masked(s.cardNumber),
		Expiry:         s.expiry,
		CardholderName: s.cardholderName,
		ClientEmail:    s.clientEmail,
		Fees:           fees.Calculate(s.proposal.ProposedRate),
		Funded:         s.payment != nil,
	}
}

// Close discards the session and its card data. It fails while processing.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseProcessing {
		return apperr.ErrSessionProcessing
	}
	s.phase = PhaseClosed
	s.wipe()
	return nil
}

func (s *Session) wipe() {
	s.cardNumber = ""
	s.expiry = ""
	s.cvv = ""
	s.cardholderName = ""
}

// payload is what the processing phase needs, copied under the lock
type payload struct {
	brand          card.Brand
	cardholderName string
	clientEmail    string
	funded         bool
}

// begin validates and moves collecting to processing.
func (s *Session) begin() (payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editable(); err != nil {
		return payload{}, err
	}
	if err := s.validate(); err != nil {
		return payload{}, err
	}
	s.phase = PhaseProcessing
	return payload{
		brand:          card.Classify(s.cardNumber),
		cardholderName: strings.TrimSpace(s.cardholderName),
		clientEmail:    s.clientEmail,
		funded:         s.payment != nil,
	}, nil
}

// fail returns a processing session to collecting with every field retained
func (s *Session) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseProcessing {
		s.phase = PhaseCollecting
	}
}

// pending is the ledger row describing a funded session without a contract
func (s *Session) pending() models.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := models.Attempt{
		IdempotencyKey: s.key,
		ProposalID:     s.proposal.ID,
		JobID:          s.proposal.JobID,
		Status:         models.AttemptPartialFailure,
	}
	if s.payment != nil {
		a.EscrowPaymentID = s.payment.ID
		a.AmountCents = s.payment.AmountCents
		a.Currency = s.payment.Currency
	}
	return a
}

func (s *Session) markFunded(p *models.EscrowPayment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payment = p
}

func (s *Session) succeed(c *models.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contract = c
	s.phase = PhaseSuccess
	s.wipe()
}
