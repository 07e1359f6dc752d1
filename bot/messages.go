package bot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/slashbinslashnoname/hire-checkout/apperr"
	"github.com/slashbinslashnoname/hire-checkout/checkout"
	"github.com/slashbinslashnoname/hire-checkout/fees"
	"github.com/slashbinslashnoname/hire-checkout/models"
)

const helpText = `*Hire Checkout Help*

*Available Commands:*
/proposals <job_id> - List the proposals of a job
/fees <rate> - Show the fees charged on top of a rate
/cancel - Abandon the checkout in progress
/help - Show this help message

*How to hire:*
1. List proposals with /proposals
2. Press "Accept & Hire" on a submitted proposal
3. Enter card number, expiry, CVV and cardholder name
4. Check the fee breakdown and press "Pay"

Card details are deleted from the chat as soon as they are read.

*Proposal Status:*
📨 Submitted - Waiting for your decision
🤝 Accepted - Escrow funded, contract created
📄 Contracted - Contract confirmed
❌ Declined - Contract cancelled and refunded
🚫 Rejected - Proposal declined`

var statusEmoji = map[models.ProposalStatus]string{
	models.StatusSubmitted:  "📨",
	models.StatusAccepted:   "🤝",
	models.StatusContracted: "📄",
	models.StatusDeclined:   "❌",
	models.StatusRejected:   "🚫",
}

func proposalText(v checkout.ProposalView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Proposal #%d by %s\n", v.ID, v.FreelancerName())
	fmt.Fprintf(&b, "🔹 Rate: $%s\n", v.ProposedRate.StringFixed(2))
	fmt.Fprintf(&b, "🔹 Delivery: %d days\n", v.DeliveryDays)
	fmt.Fprintf(&b, "🔹 Status: %s %s\n", statusEmoji[v.Status], v.Status)
	if v.ContractID != nil {
		fmt.Fprintf(&b, "🔹 Contract: #%d\n", *v.ContractID)
	}
	if letter := strings.TrimSpace(v.CoverLetter); letter != "" {
		if r := []rune(letter); len(r) > 300 {
			letter = string(r[:300]) + "…"
		}
		fmt.Fprintf(&b, "\n%s\n", letter)
	}
	if links := v.Links(); len(links) > 0 {
		fmt.Fprintf(&b, "\nPortfolio:\n%s\n", strings.Join(links, "\n"))
	}
	return b.String()
}

func feesText(b fees.Breakdown) string {
	return fmt.Sprintf(
		"Project cost: $%s\n"+
			"Platform fee (3%%): $%s\n"+
			"Processing fee: $%s\n"+
			"Total: $%s",
		b.ProjectCost.StringFixed(2), b.PlatformFee.StringFixed(2),
		b.ProcessingFee.StringFixed(2), b.Total.StringFixed(2))
}

func summaryText(v checkout.View) string {
	return fmt.Sprintf(
		"💳 %s %s\n"+
			"Expires: %s\n"+
			"Name: %s\n\n%s\n\nPress Pay to fund the escrow and create the contract.",
		v.BrandLabel, v.CardNumber, v.Expiry, v.CardholderName, feesText(v.Fees))
}

var prompts = map[string]string{
	checkout.FieldCardNumber:     "💳 Enter the card number:",
	checkout.FieldExpiry:         "📅 Enter the expiry date (MM/YY):",
	checkout.FieldCVV:            "🔒 Enter the CVV:",
	checkout.FieldCardholderName: "👤 Enter the cardholder name:",
}

// errorText renders err for the chat according to its kind
func errorText(err error) string {
	var (
		validation *apperr.ValidationError
		partial    *apperr.PartialFailureError
	)
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		errors.As(err, &validation)
		msgs := make([]string, 0, len(validation.Fields))
		for _, m := range validation.Fields {
			msgs = append(msgs, m)
		}
		sort.Strings(msgs)
		return "⚠️ " + strings.Join(msgs, "\n⚠️ ")
	case apperr.KindStateConflict:
		return "⚠️ This action is no longer available: " + err.Error()
	case apperr.KindInProgress:
		if errors.Is(err, apperr.ErrSessionProcessing) {
			return "⏳ Payment is processing and cannot be changed or cancelled."
		}
		if errors.Is(err, apperr.ErrSessionFunded) {
			return "⚠️ The open checkout already took payment. Press Retry payment to finish it, or /cancel it first."
		}
		return "⏳ This action is already in progress for this proposal."
	case apperr.KindNotFound:
		return "Nothing to act on. Run /proposals <job_id> first."
	case apperr.KindTransient:
		return "❌ The marketplace could not complete the request. Please try again."
	case apperr.KindPartialFailure:
		errors.As(err, &partial)
		return fmt.Sprintf("⚠️ Payment was taken but the contract could not be created.\n"+
			"Reference: %s\nPress Retry to finish creating the contract. Your card will not be charged again.",
			partial.IdempotencyKey)
	default:
		return "Something went wrong. Please try again later."
	}
}
