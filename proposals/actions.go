package proposals

import "github.com/slashbinslashnoname/hire-checkout/models"

// Action is an operator trigger shown on a proposal
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDiscard Action = "discard"
	ActionDecline Action = "decline"
)

// guards lists the only status in which each action is exposed.
var guards = map[Action]models.ProposalStatus{
	ActionAccept:  models.StatusSubmitted,
	ActionDiscard: models.StatusContracted,
	ActionDecline: models.StatusSubmitted,
}

// Allowed reports whether action may be triggered on p
func Allowed(p models.Proposal, action Action) bool {
	required, ok := guards[action]
	return ok && p.Status == required
}

// Actions is the set of controls to render for a proposal
type Actions struct {
	CanAccept  bool `json:"canAccept"`
	CanDecline bool `json:"canDecline"`
	CanDiscard bool `json:"canDiscard"`
}

// Available computes the controls for p. busy reports actions already in flight.
func Available(p models.Proposal, busy func(Action) bool) Actions {
	enabled := func(a Action) bool {
		return Allowed(p, a) && (busy == nil || !busy(a))
	}
	return Actions{
		CanAccept:  enabled(ActionAccept),
		CanDecline: enabled(ActionDecline),
		CanDiscard: enabled(ActionDiscard),
	}
}
