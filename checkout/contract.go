package checkout

import (
	"encoding/json"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"

	"github.com/slashbinslashnoname/hire-checkout/fees"
	"github.com/slashbinslashnoname/hire-checkout/models"
)

// ContractTermDays is the default length of a new contract
const ContractTermDays = 30

const dateLayout = "2006-01-02"

var strict = bluemonday.StrictPolicy()

// cleanText strips markup from operator or marketplace supplied text.
func cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

type terms struct {
	Scope    string `json:"scope"`
	Timeline string `json:"timeline"`
}

// BuildContractRequest assembles the contract for accepted proposal p on job j,
// starting on now's date.
func BuildContractRequest(p models.Proposal, j models.Job, now time.Time) (models.CreateContractRequest, error) {
	blob, err := json.Marshal(terms{
		Scope:    "Work for job: " + cleanText(j.DisplayTitle()),
		Timeline: "As per job description",
	})
	if err != nil {
		return models.CreateContractRequest{}, errors.Wrap(err, "failed to encode contract terms")
	}

	currency := strings.ToUpper(strings.TrimSpace(j.Currency))
	if currency == "" {
		currency = "USD"
	}

	start := now.UTC()
	return models.CreateContractRequest{
		JobID:            p.JobID,
		ProposalID:       p.ID,
		ClientID:         j.ClientID,
		FreelancerID:     p.FreelancerID,
		TotalAmountCents: fees.ToCents(p.ProposedRate),
		Currency:         currency,
		PaymentModel:     j.Model(),
		StartDate:        start.Format(dateLayout),
		EndDate:          start.AddDate(0, 0, ContractTermDays).Format(dateLayout),
		TermsJSON:        string(blob),
	}, nil
}

// fundRequest composes the escrow funding call for a validated session
func fundRequest(p models.Proposal, j models.Job, pl payload) models.FundEscrowRequest {
	currency := strings.ToLower(strings.TrimSpace(j.Currency))
	if currency == "" {
		currency = "usd"
	}
	return models.FundEscrowRequest{
		JobID:           p.JobID,
		AmountCents:     fees.Calculate(p.ProposedRate).TotalCents(),
		Currency:        currency,
		PaymentMethodID: pl.brand.PaymentMethodID(),
		ClientEmail:     pl.clientEmail,
		ClientName:      pl.cardholderName,
		Description:     cleanText(j.DisplayTitle()),
	}
}
