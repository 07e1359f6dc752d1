package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slashbinslashnoname/hire-checkout/models"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	database, err := NewDatabase(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func testAttempt(key string) models.Attempt {
	return models.Attempt{
		IdempotencyKey: key,
		ProposalID:     7,
		JobID:          42,
		AmountCents:    34700,
		Currency:       "usd",
		Brand:          "visa",
	}
}

func TestAttemptLifecycle(t *testing.T) {
	database := newTestDatabase(t)

	require.NoError(t, database.StartAttempt(testAttempt("k1")))
	a, err := database.GetAttempt("k1")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptPending, a.Status)
	assert.Equal(t, int64(34700), a.AmountCents)
	assert.Equal(t, "visa", a.Brand)
	assert.False(t, a.CreatedAt.IsZero())

	require.NoError(t, database.MarkFunded("k1", "pay_1"))
	require.NoError(t, database.MarkContracted("k1", 900))

	a, err = database.GetAttempt("k1")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptContracted, a.Status)
	assert.Equal(t, "pay_1", a.EscrowPaymentID)
	assert.Equal(t, int64(900), a.ContractID)
}

func TestStartAttemptAgainResetsError(t *testing.T) {
	database := newTestDatabase(t)

	require.NoError(t, database.StartAttempt(testAttempt("k1")))
	require.NoError(t, database.MarkFailed("k1", "card declined"))

	a, err := database.GetAttempt("k1")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptFailed, a.Status)
	assert.Equal(t, "card declined", a.Error)

	require.NoError(t, database.StartAttempt(testAttempt("k1")))
	a, err = database.GetAttempt("k1")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptPending, a.Status)
	assert.Empty(t, a.Error)
}

func TestListPartialFailures(t *testing.T) {
	database := newTestDatabase(t)

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, database.StartAttempt(testAttempt(key)))
		require.NoError(t, database.MarkFunded(key, "pay_"+key))
	}
	require.NoError(t, database.MarkPartialFailure("a", "contract service down"))
	require.NoError(t, database.MarkPartialFailure("c", "contract service down"))
	require.NoError(t, database.MarkContracted("b", 1))

	failures, err := database.ListPartialFailures(0)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	keys := []string{failures[0].IdempotencyKey, failures[1].IdempotencyKey}
	assert.ElementsMatch(t, []string{"a", "c"}, keys)
	assert.Equal(t, "contract service down", failures[0].Error)

	limited, err := database.ListPartialFailures(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUpdateUnknownAttempt(t *testing.T) {
	database := newTestDatabase(t)
	assert.Error(t, database.MarkFunded("missing", "pay"))

	_, err := database.GetAttempt("missing")
	assert.Error(t, err)
}

func TestRefunds(t *testing.T) {
	database := newTestDatabase(t)

	require.NoError(t, database.RecordRefund(models.Refund{
		ProposalID: 7, JobID: 42, ContractID: 900, Reason: "Budget constraints",
		Status: models.RefundFailed, Error: "payment service unavailable",
	}))
	require.NoError(t, database.RecordRefund(models.Refund{
		ProposalID: 7, JobID: 42, ContractID: 900, Reason: "Budget constraints",
		Status: models.RefundSucceeded,
	}))

	refunds, err := database.ListRefunds(7)
	require.NoError(t, err)
	require.Len(t, refunds, 2)
	assert.Equal(t, models.RefundFailed, refunds[0].Status)
	assert.Equal(t, models.RefundSucceeded, refunds[1].Status)
	assert.Equal(t, "Budget constraints", refunds[1].Reason)

	none, err := database.ListRefunds(8)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPendingAttempt(t *testing.T) {
	database := newTestDatabase(t)

	a, err := database.PendingAttempt(7)
	require.NoError(t, err)
	assert.Nil(t, a)

	require.NoError(t, database.StartAttempt(testAttempt("failed")))
	require.NoError(t, database.MarkFailed("failed", "card declined"))
	a, err = database.PendingAttempt(7)
	require.NoError(t, err)
	assert.Nil(t, a, "a declined card moved no money")

	require.NoError(t, database.StartAttempt(testAttempt("funded")))
	require.NoError(t, database.MarkFunded("funded", "pi_1"))
	require.NoError(t, database.MarkPartialFailure("funded", "contract service down"))

	a, err = database.PendingAttempt(7)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "funded", a.IdempotencyKey)
	assert.Equal(t, "pi_1", a.EscrowPaymentID)
	assert.Equal(t, int64(34700), a.AmountCents)

	a, err = database.PendingAttempt(8)
	require.NoError(t, err)
	assert.Nil(t, a)

	require.NoError(t, database.MarkContracted("funded", 900))
	a, err = database.PendingAttempt(7)
	require.NoError(t, err)
	assert.Nil(t, a)
}
