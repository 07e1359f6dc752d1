package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/tucnak/telebot.v2"

	"github.com/slashbinslashnoname/hire-checkout/apperr"
	"github.com/slashbinslashnoname/hire-checkout/checkout"
	"github.com/slashbinslashnoname/hire-checkout/config"
	"github.com/slashbinslashnoname/hire-checkout/fees"
	"github.com/slashbinslashnoname/hire-checkout/logger"
	"github.com/slashbinslashnoname/hire-checkout/models"
)

// Button identifiers
const (
	btnAccept       = "accept"
	btnDecline      = "decline"
	btnDiscard      = "discard"
	btnReason       = "reason"
	btnPay          = "pay"
	btnRetryDiscard = "retry_discard"
	btnAbort        = "abort"
)

// maxCards bounds the proposal cards sent for one job
const maxCards = 10

// Checkout is the part of the checkout service the bot drives
type Checkout interface {
	Refresh(ctx context.Context, jobID int64) ([]checkout.ProposalView, error)
	Proposal(ctx context.Context, id int64) (checkout.ProposalView, error)
	Open(ctx context.Context, proposalID int64) (*checkout.Session, error)
	Submit(ctx context.Context, sess *checkout.Session) (*models.Contract, error)
	Discard(ctx context.Context, proposalID int64, reason string) (models.Proposal, error)
	Decline(ctx context.Context, proposalID int64) (models.Proposal, error)
}

// messenger is the subset of telebot the handlers use
type messenger interface {
	Send(to telebot.Recipient, what interface{}, options ...interface{}) (*telebot.Message, error)
	Delete(msg telebot.Editable) error
	Respond(c *telebot.Callback, resp ...*telebot.CallbackResponse) error
}

// Bot represents the Telegram bot with its dependencies
type Bot struct {
	teleBot  *telebot.Bot
	out      messenger
	svc      Checkout
	sessions *checkout.Registry
	chats    *chats

	stopSweep context.CancelFunc
}

// NewBot creates a new Bot instance
func NewBot(cfg *config.Config, svc Checkout) (*Bot, error) {
	tb, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bot")
	}
	b := newBot(tb, svc, checkout.NewRegistry(cfg.SessionTTL))
	b.teleBot = tb
	return b, nil
}

func newBot(out messenger, svc Checkout, sessions *checkout.Registry) *Bot {
	return &Bot{
		out:      out,
		svc:      svc,
		sessions: sessions,
		chats:    newChats(),
	}
}

// Start registers the handlers and blocks polling for updates
func (b *Bot) Start() {
	b.teleBot.Handle("/start", b.onHelp)
	b.teleBot.Handle("/help", b.onHelp)
	b.teleBot.Handle("/proposals", b.onProposals)
	b.teleBot.Handle("/fees", b.onFees)
	b.teleBot.Handle("/cancel", b.onCancel)
	b.teleBot.Handle(telebot.OnText, b.onText)

	b.teleBot.Handle(&telebot.InlineButton{Unique: btnAccept}, b.onAccept)
	b.teleBot.Handle(&telebot.InlineButton{Unique: btnDecline}, b.onDecline)
	b.teleBot.Handle(&telebot.InlineButton{Unique: btnDiscard}, b.onDiscard)
	b.teleBot.Handle(&telebot.InlineButton{Unique: btnReason}, b.onReason)
	b.teleBot.Handle(&telebot.InlineButton{Unique: btnPay}, b.onPay)
	b.teleBot.Handle(&telebot.InlineButton{Unique: btnRetryDiscard}, b.onRetryDiscard)
	b.teleBot.Handle(&telebot.InlineButton{Unique: btnAbort}, b.onAbort)

	ctx, cancel := context.WithCancel(context.Background())
	b.stopSweep = cancel
	go b.sessions.Run(ctx, time.Minute)

	logger.Info(context.Background(), "bot started and ready to accept commands")
	b.teleBot.Start()
}

// Stop ends polling and the session sweep
func (b *Bot) Stop() {
	if b.stopSweep != nil {
		b.stopSweep()
	}
	b.teleBot.Stop()
}

func sessionKey(chatID int64) string {
	return "chat:" + strconv.FormatInt(chatID, 10)
}

func chatOf(m *telebot.Message) int64 {
	if m.Chat != nil {
		return m.Chat.ID
	}
	return int64(m.Sender.ID)
}

func callbackChat(c *telebot.Callback) int64 {
	if c.Message != nil {
		return chatOf(c.Message)
	}
	return int64(c.Sender.ID)
}

// args returns the words after the command
func args(m *telebot.Message) []string {
	if m.Payload != "" {
		return strings.Fields(m.Payload)
	}
	fields := strings.Fields(m.Text)
	if len(fields) < 2 {
		return nil
	}
	return fields[1:]
}

func (b *Bot) send(ctx context.Context, chatID int64, what interface{}, options ...interface{}) {
	if _, err := b.out.Send(&telebot.Chat{ID: chatID}, what, options...); err != nil {
		logger.Error(ctx, "failed to send message", "error", err)
	}
}

func (b *Bot) ack(c *telebot.Callback, text string) {
	if err := b.out.Respond(c, &telebot.CallbackResponse{Text: text}); err != nil {
		logger.Warn(context.Background(), "failed to answer callback", "error", err)
	}
}

// forget deletes a message that carried card data
func (b *Bot) forget(ctx context.Context, m *telebot.Message) {
	if err := b.out.Delete(m); err != nil {
		logger.Warn(ctx, "failed to delete card message", "message_id", m.ID, "error", err)
	}
}

func markup(rows ...[]telebot.InlineButton) *telebot.ReplyMarkup {
	return &telebot.ReplyMarkup{InlineKeyboard: rows}
}

func button(unique, text string, data interface{}) telebot.InlineButton {
	return telebot.InlineButton{Unique: unique, Text: text, Data: fmt.Sprint(data)}
}

// proposalButtons exposes only the actions the proposal's state allows
func proposalButtons(v checkout.ProposalView) *telebot.ReplyMarkup {
	var row []telebot.InlineButton
	if v.CanAccept {
		row = append(row, button(btnAccept, "✅ Accept & Hire", v.ID))
	}
	if v.CanDecline {
		row = append(row, button(btnDecline, "🚫 Decline", v.ID))
	}
	if v.CanDiscard {
		row = append(row, button(btnDiscard, "❌ Cancel Contract", v.ID))
	}
	if len(row) == 0 {
		return nil
	}
	return markup(row)
}

func (b *Bot) sendProposal(ctx context.Context, chatID int64, v checkout.ProposalView) {
	if kb := proposalButtons(v); kb != nil {
		b.send(ctx, chatID, proposalText(v), kb)
		return
	}
	b.send(ctx, chatID, proposalText(v))
}

func (b *Bot) onHelp(m *telebot.Message) {
	b.send(logger.WithChatID(context.Background(), chatOf(m)), chatOf(m), helpText, telebot.ModeMarkdown)
}

func (b *Bot) onProposals(m *telebot.Message) {
	chatID := chatOf(m)
	ctx := logger.WithChatID(context.Background(), chatID)

	a := args(m)
	if len(a) != 1 {
		b.send(ctx, chatID, "Usage: /proposals <job_id>")
		return
	}
	jobID, err := strconv.ParseInt(a[0], 10, 64)
	if err != nil || jobID <= 0 {
		b.send(ctx, chatID, "Invalid job id")
		return
	}

	views, err := b.svc.Refresh(ctx, jobID)
	if err != nil {
		b.send(ctx, chatID, errorText(err))
		return
	}
	if len(views) == 0 {
		b.send(ctx, chatID, fmt.Sprintf("No proposals yet for job #%d.", jobID))
		return
	}

	b.send(ctx, chatID, fmt.Sprintf("📋 %d proposal(s) for job #%d:", len(views), jobID))
	for i, v := range views {
		if i == maxCards {
			b.send(ctx, chatID, fmt.Sprintf("Showing the first %d proposals of %d.", maxCards, len(views)))
			break
		}
		b.sendProposal(ctx, chatID, v)
	}
}

func (b *Bot) onFees(m *telebot.Message) {
	chatID := chatOf(m)
	ctx := logger.WithChatID(context.Background(), chatID)

	a := args(m)
	if len(a) != 1 {
		b.send(ctx, chatID, "Usage: /fees <rate>")
		return
	}
	rate, err := decimal.NewFromString(strings.TrimPrefix(a[0], "$"))
	if err != nil || !rate.IsPositive() {
		b.send(ctx, chatID, "Invalid rate")
		return
	}
	b.send(ctx, chatID, feesText(fees.Calculate(rate)))
}

func (b *Bot) onCancel(m *telebot.Message) {
	chatID := chatOf(m)
	ctx := logger.WithChatID(context.Background(), chatID)
	b.abort(ctx, chatID)
}

func (b *Bot) onAbort(c *telebot.Callback) {
	b.ack(c, "")
	chatID := callbackChat(c)
	b.abort(logger.WithChatID(context.Background(), chatID), chatID)
}

func (b *Bot) abort(ctx context.Context, chatID int64) {
	funded := false
	if sess, err := b.sessions.Get(sessionKey(chatID)); err == nil {
		funded = sess.Funded()
	}
	if err := b.sessions.Close(sessionKey(chatID)); err != nil {
		b.send(ctx, chatID, errorText(err))
		return
	}
	b.chats.reset(chatID)
	if funded {
		b.send(ctx, chatID, "Cancelled. The escrow payment was already taken and will not be charged again. "+
			"Press Accept & Hire on the proposal to finish creating the contract.")
		return
	}
	b.send(ctx, chatID, "Cancelled. No payment was made.")
}

// proposalID parses the id carried by a proposal button
func proposalID(c *telebot.Callback) (int64, bool) {
	data := c.Data
	if i := strings.IndexByte(data, '|'); i >= 0 {
		data = data[:i]
	}
	id, err := strconv.ParseInt(data, 10, 64)
	return id, err == nil && id > 0
}

func (b *Bot) onAccept(c *telebot.Callback) {
	chatID := callbackChat(c)
	ctx := logger.WithChatID(context.Background(), chatID)
	id, ok := proposalID(c)
	if !ok {
		b.ack(c, "Invalid proposal")
		return
	}
	b.ack(c, "")

	sess, err := b.svc.Open(ctx, id)
	if err == nil {
		err = b.sessions.Put(sessionKey(chatID), sess)
	}
	if err != nil {
		b.send(ctx, chatID, errorText(err))
		return
	}

	if sess.Funded() {
		b.chats.set(chatID, chatState{step: stepConfirm, proposalID: id})
		b.send(ctx, chatID, fmt.Sprintf("Payment for proposal #%d was already taken.\n"+
			"Reference: %s\nPress Pay to finish creating the contract. Your card will not be charged again.", id, sess.ID()),
			markup([]telebot.InlineButton{
				button(btnPay, "💳 Pay", id),
				button(btnAbort, "Cancel", id),
			}))
		return
	}

	b.chats.set(chatID, chatState{step: stepCardNumber, proposalID: id})
	b.send(ctx, chatID, fmt.Sprintf("Hiring for proposal #%d.\n\n%s\n\nSend /cancel at any time to stop.",
		id, feesText(sess.Fees())))
	b.send(ctx, chatID, prompts[checkout.FieldCardNumber])
}

func (b *Bot) onDecline(c *telebot.Callback) {
	chatID := callbackChat(c)
	ctx := logger.WithChatID(context.Background(), chatID)
	id, ok := proposalID(c)
	if !ok {
		b.ack(c, "Invalid proposal")
		return
	}
	b.ack(c, "")

	if _, err := b.svc.Decline(ctx, id); err != nil {
		b.send(ctx, chatID, errorText(err))
		return
	}
	b.send(ctx, chatID, fmt.Sprintf("🚫 Proposal #%d declined.", id))
}

func (b *Bot) onDiscard(c *telebot.Callback) {
	chatID := callbackChat(c)
	ctx := logger.WithChatID(context.Background(), chatID)
	id, ok := proposalID(c)
	if !ok {
		b.ack(c, "Invalid proposal")
		return
	}
	b.ack(c, "")

	v, err := b.svc.Proposal(ctx, id)
	if err == nil && !v.CanDiscard {
		err = &apperr.StateConflictError{ProposalID: id, Action: btnDiscard, Status: string(v.Status)}
	}
	if err != nil {
		b.send(ctx, chatID, errorText(err))
		return
	}

	rows := make([][]telebot.InlineButton, 0, len(checkout.DiscardReasons)+1)
	for i, r := range checkout.DiscardReasons {
		rows = append(rows, []telebot.InlineButton{button(btnReason, r, fmt.Sprintf("%d|%d", id, i))})
	}
	rows = append(rows, []telebot.InlineButton{button(btnReason, "Other", fmt.Sprintf("%d|other", id))})
	b.send(ctx, chatID, fmt.Sprintf("Why are you cancelling the contract for proposal #%d?", id), markup(rows...))
}

func (b *Bot) onReason(c *telebot.Callback) {
	chatID := callbackChat(c)
	ctx := logger.WithChatID(context.Background(), chatID)
	id, ok := proposalID(c)
	if !ok {
		b.ack(c, "Invalid proposal")
		return
	}
	b.ack(c, "")

	choice := c.Data[strings.IndexByte(c.Data, '|')+1:]
	if choice == "other" {
		b.chats.set(chatID, chatState{step: stepReason, proposalID: id})
		b.send(ctx, chatID, "Type the reason for cancelling:")
		return
	}
	i, err := strconv.Atoi(choice)
	if err != nil || i < 0 || i >= len(checkout.DiscardReasons) {
		b.send(ctx, chatID, "Unknown reason")
		return
	}
	b.discard(ctx, chatID, id, checkout.DiscardReasons[i])
}

func (b *Bot) onRetryDiscard(c *telebot.Callback) {
	chatID := callbackChat(c)
	ctx := logger.WithChatID(context.Background(), chatID)
	b.ack(c, "")

	st := b.chats.get(chatID)
	id, ok := proposalID(c)
	if !ok || st.step != stepRetryDiscard || st.proposalID != id {
		b.send(ctx, chatID, "Nothing to retry.")
		return
	}
	b.discard(ctx, chatID, id, st.reason)
}

// discard runs the refund. On failure the reason is kept for a retry.
func (b *Bot) discard(ctx context.Context, chatID, id int64, reason string) {
	if _, err := b.svc.Discard(ctx, id, reason); err != nil {
		if apperr.KindOf(err) == apperr.KindTransient {
			b.chats.set(chatID, chatState{step: stepRetryDiscard, proposalID: id, reason: reason})
			b.send(ctx, chatID, errorText(err), markup([]telebot.InlineButton{button(btnRetryDiscard, "🔁 Retry", id)}))
			return
		}
		b.chats.reset(chatID)
		b.send(ctx, chatID, errorText(err))
		return
	}
	b.chats.reset(chatID)
	b.send(ctx, chatID, fmt.Sprintf("❌ Contract for proposal #%d cancelled and the escrow refunded.\nReason: %s", id, reason))
}

func (b *Bot) onText(m *telebot.Message) {
	chatID := chatOf(m)
	ctx := logger.WithChatID(context.Background(), chatID)
	if strings.HasPrefix(m.Text, "/") {
		return
	}

	st := b.chats.get(chatID)
	switch st.step {
	case stepCardNumber, stepExpiry, stepCVV, stepName:
		b.collect(ctx, chatID, st, m)
	case stepReason:
		b.discard(ctx, chatID, st.proposalID, m.Text)
	default:
		b.send(ctx, chatID, "Use /proposals <job_id> to list proposals, or /help.")
	}
}

// collect stores one card field and moves to the next prompt
func (b *Bot) collect(ctx context.Context, chatID int64, st chatState, m *telebot.Message) {
	field := st.step.field()
	if field != checkout.FieldCardholderName {
		b.forget(ctx, m)
	}

	sess, err := b.sessions.Get(sessionKey(chatID))
	if err != nil {
		b.chats.reset(chatID)
		b.send(ctx, chatID, errorText(err))
		return
	}

	var setErr error
	switch field {
	case checkout.FieldCardNumber:
		setErr = sess.SetCardNumber(m.Text)
	case checkout.FieldExpiry:
		setErr = sess.SetExpiry(m.Text)
	case checkout.FieldCVV:
		setErr = sess.SetCVV(m.Text)
	case checkout.FieldCardholderName:
		setErr = sess.SetCardholderName(m.Text)
	}
	if setErr != nil {
		b.send(ctx, chatID, errorText(setErr))
		return
	}

	var verr *apperr.ValidationError
	if errors.As(sess.Validate(), &verr) {
		if msg, bad := verr.Fields[field]; bad {
			b.send(ctx, chatID, "⚠️ "+msg)
			return
		}
	}

	next := st.step.next()
	b.chats.set(chatID, chatState{step: next, proposalID: st.proposalID})
	if next != stepConfirm {
		b.send(ctx, chatID, prompts[next.field()])
		return
	}
	b.sendSummary(ctx, chatID, sess)
}

func (b *Bot) sendSummary(ctx context.Context, chatID int64, sess *checkout.Session) {
	id := sess.Proposal().ID
	b.send(ctx, chatID, summaryText(sess.View()), markup([]telebot.InlineButton{
		button(btnPay, "💳 Pay", id),
		button(btnAbort, "Cancel", id),
	}))
}

func (b *Bot) onPay(c *telebot.Callback) {
	chatID := callbackChat(c)
	ctx := logger.WithChatID(context.Background(), chatID)
	id, ok := proposalID(c)
	if !ok {
		b.ack(c, "Invalid proposal")
		return
	}

	sess, err := b.sessions.Get(sessionKey(chatID))
	if err != nil || sess.Proposal().ID != id {
		b.ack(c, "This checkout is no longer open")
		return
	}
	b.ack(c, "Processing payment…")

	contract, err := b.svc.Submit(ctx, sess)
	if err != nil {
		b.payFailed(ctx, chatID, sess, err)
		return
	}

	if err := b.sessions.Close(sessionKey(chatID)); err != nil {
		logger.Warn(ctx, "failed to close checkout session", "error", err)
	}
	b.chats.reset(chatID)
	b.send(ctx, chatID, fmt.Sprintf("🎉 Payment complete. Contract #%d created for proposal #%d (%s to %s).",
		contract.ID, id, contract.StartDate, contract.EndDate))
	if v, err := b.svc.Proposal(ctx, id); err == nil {
		b.sendProposal(ctx, chatID, v)
	}
}

// payFailed keeps the entered data and offers the way forward for err
func (b *Bot) payFailed(ctx context.Context, chatID int64, sess *checkout.Session, err error) {
	id := sess.Proposal().ID

	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		for _, field := range fieldOrder {
			if msg, bad := verr.Fields[field]; bad {
				b.chats.set(chatID, chatState{step: stepFor(field), proposalID: id})
				b.send(ctx, chatID, "⚠️ "+msg)
				b.send(ctx, chatID, prompts[field])
				return
			}
		}
	}

	switch apperr.KindOf(err) {
	case apperr.KindTransient, apperr.KindPartialFailure:
		b.send(ctx, chatID, errorText(err), markup([]telebot.InlineButton{
			button(btnPay, "🔁 Retry payment", id),
			button(btnAbort, "Cancel", id),
		}))
	default:
		b.send(ctx, chatID, errorText(err))
	}
}
