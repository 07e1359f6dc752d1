package proposals

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slashbinslashnoname/hire-checkout/apperr"
	"github.com/slashbinslashnoname/hire-checkout/models"
)

func newProposal(id int64, status models.ProposalStatus) models.Proposal {
	return models.Proposal{
		ID:           id,
		JobID:        42,
		FreelancerID: 100 + id,
		ProposedRate: decimal.NewFromInt(299),
		DeliveryDays: 5,
		Status:       status,
	}
}

func contracted(id, contractID int64) models.Proposal {
	p := newProposal(id, models.StatusContracted)
	p.ContractID = &contractID
	return p
}

func TestStoreLoadAndList(t *testing.T) {
	store := NewStore()
	store.Load(42, []models.Proposal{newProposal(1, models.StatusSubmitted), newProposal(2, models.StatusRejected)}, nil)

	list := store.List(42)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].ID)
	assert.Equal(t, int64(2), list[1].ID)
	assert.Empty(t, store.List(7))

	_, err := store.Get(3)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStoreLoadReplacesButKeepsBusyEntries(t *testing.T) {
	store := NewStore()
	store.Load(42, []models.Proposal{newProposal(1, models.StatusSubmitted), newProposal(2, models.StatusSubmitted)}, nil)

	_, err := store.Accept(1, 900)
	require.NoError(t, err)

	// server still reports proposal 1 as submitted and no longer lists 2
	busy := func(id int64) bool { return id == 1 }
	store.Load(42, []models.Proposal{newProposal(1, models.StatusSubmitted), newProposal(3, models.StatusSubmitted)}, busy)

	p, err := store.Get(1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, p.Status)

	_, err = store.Get(2)
	assert.Error(t, err)

	assert.Len(t, store.List(42), 2)
}

func TestStoreLoadAdoptsContracted(t *testing.T) {
	store := NewStore()
	store.Load(42, []models.Proposal{newProposal(1, models.StatusSubmitted)}, nil)
	_, err := store.Accept(1, 900)
	require.NoError(t, err)

	store.Load(42, []models.Proposal{contracted(1, 900)}, nil)

	p, err := store.Get(1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusContracted, p.Status)
	assert.True(t, Allowed(p, ActionDiscard))
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewStore()
	store.Put(contracted(1, 900))

	p, err := store.Get(1)
	require.NoError(t, err)
	*p.ContractID = 1
	p.Status = models.StatusDeclined

	again, err := store.Get(1)
	require.NoError(t, err)
	assert.Equal(t, int64(900), *again.ContractID)
	assert.Equal(t, models.StatusContracted, again.Status)
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name   string
		from   models.Proposal
		apply  func(s *Store, id int64) (models.Proposal, error)
		want   models.ProposalStatus
		errant bool
	}{
		{"accept submitted", newProposal(1, models.StatusSubmitted), func(s *Store, id int64) (models.Proposal, error) { return s.Accept(id, 77) }, models.StatusAccepted, false},
		{"accept contracted", contracted(1, 5), func(s *Store, id int64) (models.Proposal, error) { return s.Accept(id, 77) }, models.StatusContracted, true},
		{"accept declined", newProposal(1, models.StatusDeclined), func(s *Store, id int64) (models.Proposal, error) { return s.Accept(id, 77) }, models.StatusDeclined, true},
		{"discard contracted", contracted(1, 5), func(s *Store, id int64) (models.Proposal, error) { return s.Discard(id) }, models.StatusDeclined, false},
		{"discard accepted", newProposal(1, models.StatusAccepted), func(s *Store, id int64) (models.Proposal, error) { return s.Discard(id) }, models.StatusDeclined, false},
		{"discard submitted", newProposal(1, models.StatusSubmitted), func(s *Store, id int64) (models.Proposal, error) { return s.Discard(id) }, models.StatusSubmitted, true},
		{"discard twice", newProposal(1, models.StatusDeclined), func(s *Store, id int64) (models.Proposal, error) { return s.Discard(id) }, models.StatusDeclined, true},
		{"decline submitted", newProposal(1, models.StatusSubmitted), func(s *Store, id int64) (models.Proposal, error) { return s.Decline(id) }, models.StatusRejected, false},
		{"decline contracted", contracted(1, 5), func(s *Store, id int64) (models.Proposal, error) { return s.Decline(id) }, models.StatusContracted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore()
			store.Put(tt.from)

			_, err := tt.apply(store, 1)
			if tt.errant {
				var conflict *apperr.StateConflictError
				require.ErrorAs(t, err, &conflict)
				assert.Equal(t, int64(1), conflict.ProposalID)
			} else {
				require.NoError(t, err)
			}

			p, err := store.Get(1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Status)
		})
	}
}

func TestContractIDFollowsStatus(t *testing.T) {
	store := NewStore()
	store.Put(newProposal(1, models.StatusSubmitted))

	p, err := store.Accept(1, 900)
	require.NoError(t, err)
	require.NotNil(t, p.ContractID)
	assert.Equal(t, int64(900), *p.ContractID)

	p, err = store.Discard(1)
	require.NoError(t, err)
	assert.Nil(t, p.ContractID)
	assert.False(t, p.Status.HasContract())
}

func TestGuard(t *testing.T) {
	store := NewStore()
	store.Put(newProposal(1, models.StatusSubmitted))
	store.Put(contracted(2, 5))

	_, err := store.Guard(1, ActionAccept)
	assert.NoError(t, err)
	_, err = store.Guard(1, ActionDecline)
	assert.NoError(t, err)
	_, err = store.Guard(1, ActionDiscard)
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))

	_, err = store.Guard(2, ActionDiscard)
	assert.NoError(t, err)
	_, err = store.Guard(2, ActionAccept)
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))

	_, err = store.Guard(99, ActionAccept)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAvailable(t *testing.T) {
	submitted := newProposal(1, models.StatusSubmitted)
	assert.Equal(t, Actions{CanAccept: true, CanDecline: true}, Available(submitted, nil))

	acceptBusy := func(a Action) bool { return a == ActionAccept }
	assert.Equal(t, Actions{CanDecline: true}, Available(submitted, acceptBusy))

	assert.Equal(t, Actions{CanDiscard: true}, Available(contracted(2, 5), nil))
	assert.Equal(t, Actions{}, Available(newProposal(3, models.StatusAccepted), nil))
	assert.Equal(t, Actions{}, Available(newProposal(4, models.StatusRejected), nil))
}
