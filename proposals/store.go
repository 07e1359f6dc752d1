// Package proposals keeps the per-session view of a job's proposals and owns
// every status transition applied to them.
package proposals

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/slashbinslashnoname/hire-checkout/apperr"
	"github.com/slashbinslashnoname/hire-checkout/models"
)

// Event is a confirmed outcome that moves a proposal to a new status
type Event string

const (
	// EventFunded follows a successful escrow funding and contract creation
	EventFunded Event = "funded"
	// EventDiscarded follows a successful refund
	EventDiscarded Event = "discarded"
	// EventDeclined follows a successful reject call
	EventDeclined Event = "declined"
)

type transition struct {
	from []models.ProposalStatus
	to   models.ProposalStatus
}

var transitions = map[Event]transition{
	EventFunded:    {from: []models.ProposalStatus{models.StatusSubmitted}, to: models.StatusAccepted},
	EventDiscarded: {from: []models.ProposalStatus{models.StatusAccepted, models.StatusContracted}, to: models.StatusDeclined},
	EventDeclined:  {from: []models.ProposalStatus{models.StatusSubmitted}, to: models.StatusRejected},
}

var eventActions = map[Event]string{
	EventFunded:    "accept",
	EventDiscarded: "discard",
	EventDeclined:  "decline",
}

// Store is an in-memory cache of proposals, grouped by job
type Store struct {
	mu        sync.RWMutex
	proposals map[int64]*models.Proposal
	byJob     map[int64][]int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		proposals: make(map[int64]*models.Proposal),
		byJob:     make(map[int64][]int64),
	}
}

// Load replaces the cached list for a job with what the proposal service
// returned. Entries for which keep reports true retain their local copy.
// CONTRACTED is set by the contract service and only ever arrives here.
func (s *Store) Load(jobID int64, list []models.Proposal, keep func(id int64) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := func(id int64) bool {
		_, cached := s.proposals[id]
		return cached && keep != nil && keep(id)
	}

	incoming := make(map[int64]struct{}, len(list))
	ids := make([]int64, 0, len(list))
	for i := range list {
		p := list[i]
		incoming[p.ID] = struct{}{}
		ids = append(ids, p.ID)
		if !kept(p.ID) {
			s.proposals[p.ID] = clone(&p)
		}
	}

	for _, id := range s.byJob[jobID] {
		if _, ok := incoming[id]; ok {
			continue
		}
		if kept(id) {
			ids = append(ids, id)
			continue
		}
		delete(s.proposals, id)
	}
	s.byJob[jobID] = ids
}

// Put adds or replaces a single proposal
func (s *Store) Put(p models.Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proposals[p.ID]; !ok {
		s.byJob[p.JobID] = append(s.byJob[p.JobID], p.ID)
	}
	s.proposals[p.ID] = clone(&p)
}

// List returns copies of a job's proposals in the order they were loaded
func (s *Store) List(jobID int64) []models.Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Proposal, 0, len(s.byJob[jobID]))
	for _, id := range s.byJob[jobID] {
		if p, ok := s.proposals[id]; ok {
			result = append(result, *clone(p))
		}
	}
	return result
}

// Get returns a copy of a proposal
func (s *Store) Get(id int64) (models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return models.Proposal{}, errors.Wrapf(apperr.ErrNotFound, "proposal %d", id)
	}
	return *clone(p), nil
}

// Guard returns the proposal if action is currently exposed on it
func (s *Store) Guard(id int64, action Action) (models.Proposal, error) {
	p, err := s.Get(id)
	if err != nil {
		return models.Proposal{}, err
	}
	if !Allowed(p, action) {
		return p, &apperr.StateConflictError{ProposalID: id, Action: string(action), Status: string(p.Status)}
	}
	return p, nil
}

// Accept records a funded escrow and its contract: SUBMITTED -> ACCEPTED.
func (s *Store) Accept(id, contractID int64) (models.Proposal, error) {
	return s.apply(id, EventFunded, func(p *models.Proposal) {
		p.ContractID = &contractID
	})
}

// Discard records a completed refund: ACCEPTED/CONTRACTED -> DECLINED.
func (s *Store) Discard(id int64) (models.Proposal, error) {
	return s.apply(id, EventDiscarded, func(p *models.Proposal) {
		p.ContractID = nil
	})
}

// Decline records a rejected bid: SUBMITTED -> REJECTED.
func (s *Store) Decline(id int64) (models.Proposal, error) {
	return s.apply(id, EventDeclined, nil)
}

func (s *Store) apply(id int64, ev Event, mutate func(*models.Proposal)) (models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return models.Proposal{}, errors.Wrapf(apperr.ErrNotFound, "proposal %d", id)
	}

	t := transitions[ev]
	if !statusIn(p.Status, t.from) {
		return *clone(p), &apperr.StateConflictError{ProposalID: id, Action: eventActions[ev], Status: string(p.Status)}
	}

	p.Status = t.to
	if mutate != nil {
		mutate(p)
	}
	return *clone(p), nil
}

func statusIn(s models.ProposalStatus, set []models.ProposalStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func clone(p *models.Proposal) *models.Proposal {
	c := *p
	if p.ContractID != nil {
		id := *p.ContractID
		c.ContractID = &id
	}
	if p.FreelancerInfo != nil {
		info := *p.FreelancerInfo
		c.FreelancerInfo = &info
	}
	return &c
}
