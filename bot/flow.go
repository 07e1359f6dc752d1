package bot

import (
	"sync"

	"github.com/slashbinslashnoname/hire-checkout/checkout"
)

// step is what the chat is expected to send next
type step int

const (
	stepIdle step = iota
	stepCardNumber
	stepExpiry
	stepCVV
	stepName
	stepConfirm
	stepReason
	stepRetryDiscard
)

// fieldOrder is the order card fields are asked for
var fieldOrder = []string{
	checkout.FieldCardNumber,
	checkout.FieldExpiry,
	checkout.FieldCVV,
	checkout.FieldCardholderName,
}

var stepFields = map[step]string{
	stepCardNumber: checkout.FieldCardNumber,
	stepExpiry:     checkout.FieldExpiry,
	stepCVV:        checkout.FieldCVV,
	stepName:       checkout.FieldCardholderName,
}

func (s step) field() string { return stepFields[s] }

// next follows the card prompts and ends on confirmation
func (s step) next() step {
	if s >= stepCardNumber && s < stepConfirm {
		return s + 1
	}
	return stepIdle
}

func stepFor(field string) step {
	for s, f := range stepFields {
		if f == field {
			return s
		}
	}
	return stepIdle
}

// chatState is one chat's position in a conversation
type chatState struct {
	step       step
	proposalID int64
	// reason is kept after a failed refund so Retry can resend it
	reason string
}

type chats struct {
	mu    sync.Mutex
	state map[int64]chatState
}

func newChats() *chats {
	return &chats{state: make(map[int64]chatState)}
}

func (c *chats) get(chatID int64) chatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state[chatID]
}

func (c *chats) set(chatID int64, st chatState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[chatID] = st
}

func (c *chats) reset(chatID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, chatID)
}
