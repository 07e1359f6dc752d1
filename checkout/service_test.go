package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slashbinslashnoname/hire-checkout/apperr"
	"github.com/slashbinslashnoname/hire-checkout/busy"
	"github.com/slashbinslashnoname/hire-checkout/models"
)

func TestAcceptAndHire(t *testing.T) {
	h := newHarness(submitted(7, 299))
	ctx := context.Background()

	sess, err := h.svc.Open(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, sess.SetCardNumber("4242424242424242"))
	require.NoError(t, sess.SetExpiry("12/27"))
	require.NoError(t, sess.SetCVV("123"))
	require.NoError(t, sess.SetCardholderName("JANE DOE"))

	fees := sess.Fees()
	assert.Equal(t, "9", fees.PlatformFee.String())
	assert.Equal(t, "39", fees.ProcessingFee.String())
	assert.Equal(t, "347", fees.Total.String())

	contract, err := h.svc.Submit(ctx, sess)
	require.NoError(t, err)
	require.NotNil(t, contract)

	require.Len(t, h.market.fundCalls, 1)
	fund := h.market.fundCalls[0]
	assert.Equal(t, int64(34700), fund.AmountCents)
	assert.Equal(t, "pm_card_visa", fund.PaymentMethodID)
	assert.Equal(t, "JANE DOE", fund.ClientName)
	assert.Equal(t, "client@example.com", fund.ClientEmail)
	assert.Equal(t, "Landing page", fund.Description)

	require.Len(t, h.market.contractCalls, 1)
	req := h.market.contractCalls[0]
	start, err := time.Parse("2006-01-02", req.StartDate)
	require.NoError(t, err)
	end, err := time.Parse("2006-01-02", req.EndDate)
	require.NoError(t, err)
	assert.Equal(t, start.AddDate(0, 0, 30), end)
	assert.Equal(t, []string{sess.ID()}, h.market.fundKeys)
	assert.Equal(t, []string{sess.ID()}, h.market.contractKeys)

	p, err := h.store.Get(7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, p.Status)
	require.NotNil(t, p.ContractID)
	assert.Equal(t, contract.ID, *p.ContractID)

	assert.Equal(t, PhaseSuccess, sess.Phase())
	assert.Empty(t, sess.cardNumber)
	assert.Empty(t, sess.cvv)

	a := h.ledger.attempt(sess.ID())
	assert.Equal(t, models.AttemptContracted, a.Status)
	assert.Equal(t, "visa", a.Brand)
	assert.Equal(t, contract.ID, a.ContractID)
}

func TestSubmitValidationMakesNoCalls(t *testing.T) {
	h := newHarness(submitted(7, 299))
	sess, err := h.svc.Open(context.Background(), 7)
	require.NoError(t, err)
	require.NoError(t, sess.SetCardNumber("4242"))

	_, err = h.svc.Submit(context.Background(), sess)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Empty(t, h.market.fundCalls)
	assert.Equal(t, PhaseCollecting, sess.Phase())
}

func TestSubmitFundingFailureRetainsSession(t *testing.T) {
	h := newHarness(submitted(7, 299))
	h.market.fundErr = errors.New("card declined")
	ctx := context.Background()

	sess, err := h.svc.Open(ctx, 7)
	require.NoError(t, err)
	fillCard(sess)

	_, err = h.svc.Submit(ctx, sess)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))
	assert.Equal(t, PhaseCollecting, sess.Phase())
	assert.Equal(t, "4242424242424242", sess.cardNumber)
	assert.Equal(t, "12/27", sess.expiry)
	assert.Equal(t, "123", sess.cvv)
	assert.Equal(t, "JANE DOE", sess.cardholderName)
	assert.Empty(t, h.market.contractCalls)

	p, _ := h.store.Get(7)
	assert.Equal(t, models.StatusSubmitted, p.Status)
	assert.Nil(t, p.ContractID)
	assert.Equal(t, models.AttemptFailed, h.ledger.attempt(sess.ID()).Status)

	busyNow, _ := h.guard.Busy(ctx, busy.Accept, 7)
	assert.False(t, busyNow, "guard released after failure")

	h.market.fundErr = nil
	_, err = h.svc.Submit(ctx, sess)
	require.NoError(t, err)
	assert.Len(t, h.market.fundCalls, 2)
}

func TestSubmitPartialFailureThenResume(t *testing.T) {
	h := newHarness(submitted(7, 299))
	h.market.contractErr = errors.New("contract service unavailable")
	ctx := context.Background()

	sess, err := h.svc.Open(ctx, 7)
	require.NoError(t, err)
	fillCard(sess)

	_, err = h.svc.Submit(ctx, sess)
	var partial *apperr.PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, sess.ID(), partial.IdempotencyKey)
	assert.Equal(t, int64(7), partial.ProposalID)
	assert.Equal(t, apperr.KindPartialFailure, apperr.KindOf(err))

	assert.Equal(t, PhaseCollecting, sess.Phase())
	assert.True(t, sess.Funded())
	p, _ := h.store.Get(7)
	assert.Equal(t, models.StatusSubmitted, p.Status)
	assert.Equal(t, models.AttemptPartialFailure, h.ledger.attempt(sess.ID()).Status)

	h.market.contractErr = nil
	contract, err := h.svc.Submit(ctx, sess)
	require.NoError(t, err)
	assert.Len(t, h.market.fundCalls, 1, "funded escrow is not charged twice")
	assert.Equal(t, []string{sess.ID(), sess.ID()}, h.market.contractKeys)
	assert.Equal(t, 1, h.ledger.starts)
	assert.Equal(t, models.AttemptContracted, h.ledger.attempt(sess.ID()).Status)

	p, _ = h.store.Get(7)
	assert.Equal(t, models.StatusAccepted, p.Status)
	assert.Equal(t, contract.ID, *p.ContractID)
}

func TestReopenAfterPartialFailureChargesOnce(t *testing.T) {
	h := newHarness(submitted(7, 299))
	h.market.contractErr = errors.New("contract service unavailable")
	ctx := context.Background()

	first, err := h.svc.Open(ctx, 7)
	require.NoError(t, err)
	fillCard(first)
	_, err = h.svc.Submit(ctx, first)
	require.Equal(t, apperr.KindPartialFailure, apperr.KindOf(err))
	require.NoError(t, first.Close())

	h.market.contractErr = nil
	again, err := h.svc.Open(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), again.ID(), "the funded attempt keeps its idempotency key")
	assert.True(t, again.Funded())
	assert.NoError(t, again.Validate(), "no card data is needed to finish a funded checkout")

	contract, err := h.svc.Submit(ctx, again)
	require.NoError(t, err)
	assert.Len(t, h.market.fundCalls, 1, "escrow funded once for the proposal")
	assert.Equal(t, []string{first.ID(), first.ID()}, h.market.contractKeys)
	assert.Equal(t, models.AttemptContracted, h.ledger.attempt(first.ID()).Status)

	p, _ := h.store.Get(7)
	assert.Equal(t, models.StatusAccepted, p.Status)
	assert.Equal(t, contract.ID, *p.ContractID)
}

func TestOpenResumesFundedAttemptFromLedger(t *testing.T) {
	h := newHarness(submitted(7, 299))
	require.NoError(t, h.ledger.StartAttempt(models.Attempt{
		IdempotencyKey: "key-before-restart", ProposalID: 7, JobID: 3, AmountCents: 34700, Currency: "usd",
	}))
	require.NoError(t, h.ledger.MarkFunded("key-before-restart", "pi_9"))
	require.NoError(t, h.ledger.MarkPartialFailure("key-before-restart", "timeout"))

	sess, err := h.svc.Open(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "key-before-restart", sess.ID())
	assert.True(t, sess.View().Funded)

	_, err = h.svc.Submit(context.Background(), sess)
	require.NoError(t, err)
	assert.Empty(t, h.market.fundCalls)
	assert.Equal(t, []string{"key-before-restart"}, h.market.contractKeys)
}

func TestOpenRefusesWithoutLedgerAnswer(t *testing.T) {
	h := newHarness(submitted(7, 299))
	h.ledger.pendingErr = errors.New("database is locked")

	_, err := h.svc.Open(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Empty(t, h.market.fundCalls)
}

func TestSubmitProcessingTimeout(t *testing.T) {
	h := newHarness(submitted(7, 299))
	h.market.fundBlock = true
	h.svc.processingTimeout = 20 * time.Millisecond

	sess, err := h.svc.Open(context.Background(), 7)
	require.NoError(t, err)
	fillCard(sess)

	_, err = h.svc.Submit(context.Background(), sess)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, PhaseCollecting, sess.Phase())
}

func TestSubmitIgnoresCallerCancellation(t *testing.T) {
	h := newHarness(submitted(7, 299))
	sess, err := h.svc.Open(context.Background(), 7)
	require.NoError(t, err)
	fillCard(sess)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Acquire and guard checks run before processing; the memory guard ignores ctx.
	_, err = h.svc.Submit(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, PhaseSuccess, sess.Phase())
}

func TestSubmitRejectsOverlap(t *testing.T) {
	h := newHarness(submitted(7, 299))
	ctx := context.Background()
	sess, err := h.svc.Open(ctx, 7)
	require.NoError(t, err)
	fillCard(sess)

	ok, _ := h.guard.Acquire(ctx, busy.Accept, 7)
	require.True(t, ok)

	_, err = h.svc.Submit(ctx, sess)
	assert.ErrorIs(t, err, apperr.ErrInProgress)
	assert.Empty(t, h.market.fundCalls)
	assert.Equal(t, PhaseCollecting, sess.Phase())

	_, err = h.svc.Open(ctx, 7)
	assert.ErrorIs(t, err, apperr.ErrInProgress)

	_, err = h.svc.Decline(ctx, 7)
	assert.ErrorIs(t, err, apperr.ErrInProgress)
	assert.Empty(t, h.market.rejects)
}

func TestSubmitAfterProposalMoved(t *testing.T) {
	h := newHarness(submitted(7, 299))
	ctx := context.Background()
	sess, err := h.svc.Open(ctx, 7)
	require.NoError(t, err)
	fillCard(sess)

	_, err = h.store.Decline(7)
	require.NoError(t, err)

	_, err = h.svc.Submit(ctx, sess)
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))
	assert.Empty(t, h.market.fundCalls)
}

func TestOpenGuards(t *testing.T) {
	h := newHarness(contractedProposal(8, 55))
	_, err := h.svc.Open(context.Background(), 8)
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))

	_, err = h.svc.Open(context.Background(), 404)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDiscard(t *testing.T) {
	h := newHarness(contractedProposal(8, 55))
	ctx := context.Background()

	p, err := h.svc.Discard(ctx, 8, "  Budget constraints ")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, p.Status)
	assert.Nil(t, p.ContractID)
	assert.Equal(t, []string{"Budget constraints"}, h.market.discards)

	require.Len(t, h.ledger.refunds, 1)
	assert.Equal(t, models.RefundSucceeded, h.ledger.refunds[0].Status)
	assert.Equal(t, int64(55), h.ledger.refunds[0].ContractID)

	_, err = h.svc.Discard(ctx, 8, "Budget constraints")
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))
	assert.Len(t, h.market.discards, 1, "no second refund")
}

func TestDiscardRetryReusesRefundKey(t *testing.T) {
	h := newHarness(contractedProposal(8, 55))
	h.market.discardErr = errors.New("refund gateway down")
	ctx := context.Background()

	_, err := h.svc.Discard(ctx, 8, "Timeline mismatch")
	require.Error(t, err)

	h.market.discardErr = nil
	_, err = h.svc.Discard(ctx, 8, "Timeline mismatch")
	require.NoError(t, err)
	assert.Equal(t, []string{"discard-8-55", "discard-8-55"}, h.market.discardKeys)
}

func TestDiscardRequiresReason(t *testing.T) {
	h := newHarness(contractedProposal(8, 55))
	_, err := h.svc.Discard(context.Background(), 8, " <b></b> ")

	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "reason")
	assert.Empty(t, h.market.discards)
}

func TestDiscardRequiresContracted(t *testing.T) {
	h := newHarness(submitted(7, 299))
	_, err := h.svc.Discard(context.Background(), 7, "Timeline mismatch")
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))
	assert.Empty(t, h.market.discards)
}

func TestDiscardFailureKeepsContracted(t *testing.T) {
	h := newHarness(contractedProposal(8, 55))
	h.market.discardErr = errors.New("refund gateway down")

	_, err := h.svc.Discard(context.Background(), 8, "Timeline mismatch")
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))

	p, _ := h.store.Get(8)
	assert.Equal(t, models.StatusContracted, p.Status)
	require.NotNil(t, p.ContractID)
	require.Len(t, h.ledger.refunds, 1)
	assert.Equal(t, models.RefundFailed, h.ledger.refunds[0].Status)
	assert.Equal(t, "Timeline mismatch", h.ledger.refunds[0].Reason)
}

func TestDecline(t *testing.T) {
	h := newHarness(submitted(7, 299))
	ctx := context.Background()

	h.market.rejectErr = errors.New("503")
	_, err := h.svc.Decline(ctx, 7)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))
	p, _ := h.store.Get(7)
	assert.Equal(t, models.StatusSubmitted, p.Status)

	h.market.rejectErr = nil
	p, err = h.svc.Decline(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, p.Status)
	assert.Equal(t, []int64{7, 7}, h.market.rejects)

	_, err = h.svc.Decline(ctx, 7)
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))
}

func TestRefreshExposesActions(t *testing.T) {
	h := newHarness()
	h.market.proposals = []models.Proposal{submitted(7, 299), contractedProposal(8, 55)}
	ctx := context.Background()

	views, err := h.svc.Refresh(ctx, 3)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.True(t, views[0].CanAccept)
	assert.True(t, views[0].CanDecline)
	assert.False(t, views[0].CanDiscard)
	assert.False(t, views[1].CanAccept)
	assert.True(t, views[1].CanDiscard)

	ok, _ := h.guard.Acquire(ctx, busy.Discard, 8)
	require.True(t, ok)
	h.market.proposals[1].Status = models.StatusDeclined
	views, err = h.svc.Refresh(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, models.StatusContracted, views[1].Status, "busy entry keeps its local copy")
	assert.False(t, views[1].CanDiscard)
}

func TestRefreshFailure(t *testing.T) {
	h := newHarness()
	_, err := h.svc.Refresh(context.Background(), 99)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))
}
