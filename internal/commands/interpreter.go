// Package commands interprets chat lines: each line is classified to at most
// one command, the command's change is written once, and the matching widget
// is refreshed through an EventSink.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/hotword"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/limiter"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/logger"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/service"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/utils"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/widget"
)

var log = logger.New("COMMANDS")

// EventSink refreshes widgets after a command changed state. *widget.Sink
// satisfies it.
type EventSink interface {
	Emit(ctx context.Context, channelID uint, ev widget.Event) int
	ChannelFlag(ctx context.Context, channelID uint, widgetType, field string) (bool, error)
}

// Message is one inbound chat line.
type Message struct {
	ChannelID  uint
	ViewerID   string
	ViewerName string
	Text       string
}

type Interpreter struct {
	store    *db.Store
	limits   *limiter.Limiter
	words    *hotword.Scanner
	sink     EventSink
	settings *service.ConfigStoreAccessor
	now      func() time.Time

	botID    string
	botLogin string
}

type Option func(*Interpreter)

func WithClock(now func() time.Time) Option {
	return func(in *Interpreter) { in.now = now }
}

// WithBot names the bot account so its own lines are ignored.
func WithBot(userID, login string) Option {
	return func(in *Interpreter) {
		in.botID = userID
		in.botLogin = strings.ToLower(login)
	}
}

func NewInterpreter(store *db.Store, limits *limiter.Limiter, words *hotword.Scanner, sink EventSink, settings *service.ConfigStoreAccessor, opts ...Option) *Interpreter {
	in := &Interpreter{
		store:    store,
		limits:   limits,
		words:    words,
		sink:     sink,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

func (in *Interpreter) isBot(msg Message) bool {
	if in.botID != "" && msg.ViewerID == in.botID {
		return true
	}
	return in.botLogin != "" && strings.ToLower(msg.ViewerName) == in.botLogin
}

// Handle runs the command in msg and returns the chat reply, or "" when
// nothing should be said. Command failures become replies; the returned
// error is only set for failures the viewer cannot act on.
func (in *Interpreter) Handle(ctx context.Context, msg Message) (string, error) {
	if in.isBot(msg) {
		return "", nil
	}

	cmd := Parse(msg.Text)
	if cmd.Kind != KindHotword {
		log.Debug("Processing chat command: %s with args: %q from user: %s", cmd.Kind, cmd.Args, msg.ViewerName)
	}

	var (
		reply string
		err   error
	)
	switch cmd.Kind {
	case KindGuess:
		reply, err = in.handleGuess(ctx, msg, cmd.Args)
	case KindSlotRequest:
		reply, err = in.handleSlotRequest(ctx, msg, cmd.Args)
	case KindJoin:
		reply, err = in.handleJoin(ctx, msg, cmd.Args)
	case KindPoints:
		reply, err = in.handlePoints(ctx, msg)
	case KindRedeem:
		reply, err = in.handleRedeem(ctx, msg, cmd.Args)
	default:
		return "", in.scanHotwords(ctx, msg)
	}

	if err != nil {
		reply = replyFor(msg.ViewerName, err)
		if !isExpected(err) {
			log.Warn("%s from %s in channel %d failed: %v", cmd.Kind, msg.ViewerName, msg.ChannelID, err)
		} else {
			err = nil
		}
	}
	if reply != "" && !in.settings.Bool(ctx, msg.ChannelID, db.ConfigKeyChatReplies) {
		return "", err
	}
	return reply, err
}

func isExpected(err error) bool {
	switch apperr.CodeOf(err) {
	case apperr.CodeValidationFailed, apperr.CodeNotFound, apperr.CodeCooldownActive, apperr.CodeRateLimited:
		return true
	}
	return false
}

func replyFor(viewer string, err error) string {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return fmt.Sprintf("@%s something went wrong, try again later", viewer)
	}
	switch appErr.Code {
	case apperr.CodeCooldownActive:
		return fmt.Sprintf("@%s slow down, try again in %s", viewer, utils.FormatWait(appErr.RetryAfter))
	case apperr.CodeRateLimited:
		return fmt.Sprintf("@%s too many requests, try again in %s", viewer, utils.FormatWait(appErr.RetryAfter))
	case apperr.CodeValidationFailed, apperr.CodeNotFound:
		return fmt.Sprintf("@%s %s", viewer, appErr.Message)
	default:
		return fmt.Sprintf("@%s something went wrong, try again later", viewer)
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (in *Interpreter) handleGuess(ctx context.Context, msg Message, args string) (string, error) {
	value, ok := ParseAmount(args)
	if !ok {
		return fmt.Sprintf("@%s usage: !guess <amount>", msg.ViewerName), nil
	}
	if _, err := in.SubmitGuess(ctx, msg.ChannelID, msg.ViewerID, msg.ViewerName, value); err != nil {
		return "", err
	}
	return fmt.Sprintf("@%s your guess of %s is in", msg.ViewerName, formatAmount(value)), nil
}

// SubmitGuess stores the viewer's guess on the running hunt while the
// channel's guessing widget is open. A second guess overwrites the first.
func (in *Interpreter) SubmitGuess(ctx context.Context, channelID uint, viewerID, viewerName string, value float64) (*db.Guess, error) {
	open, err := in.sink.ChannelFlag(ctx, channelID, widget.KindGuessBalance, "open")
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "load guessing state", err)
	}
	if !open {
		return nil, apperr.New(apperr.CodeValidationFailed, "guessing is closed")
	}
	hunt, err := in.store.RunningHunt(ctx, channelID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "load hunt", err)
	}
	if hunt == nil || !hunt.GuessingOpen {
		return nil, apperr.New(apperr.CodeValidationFailed, "guessing is closed")
	}

	guess := &db.Guess{HuntID: hunt.ID, ViewerID: viewerID, ViewerName: viewerName, Value: value}
	if err := in.store.UpsertGuess(ctx, guess); err != nil {
		return nil, apperr.Wrap(apperr.CodeSideEffectFailed, "store guess", err)
	}

	count, err := in.store.CountGuesses(ctx, hunt.ID)
	if err != nil {
		log.Warn("Counting guesses of hunt %d failed: %v", hunt.ID, err)
		return guess, nil
	}
	in.sink.Emit(ctx, channelID, &widget.GuessSubmitted{
		ViewerID:   viewerID,
		ViewerName: viewerName,
		Value:      value,
		GuessCount: count,
	})
	return guess, nil
}

// SubmitLimitedGuess is SubmitGuess behind the guess cooldown and the
// per-minute cap.
func (in *Interpreter) SubmitLimitedGuess(ctx context.Context, channelID uint, viewerID, viewerName string, value float64) (*db.Guess, error) {
	policy := limiter.Guess.WithCooldown(in.settings.Seconds(ctx, channelID, db.ConfigKeyGuessCooldown))
	if err := in.limits.Admit(ctx, channelID, viewerID, policy); err != nil {
		return nil, err
	}
	guess, err := in.SubmitGuess(ctx, channelID, viewerID, viewerName, value)
	if err != nil {
		return nil, err
	}
	if err := in.limits.StartCooldown(ctx, channelID, viewerID, policy); err != nil {
		log.Warn("Starting guess cooldown of %s failed: %v", viewerName, err)
	}
	return guess, nil
}

func (in *Interpreter) handleSlotRequest(ctx context.Context, msg Message, args string) (string, error) {
	if args == "" {
		return fmt.Sprintf("@%s usage: !sr <slot name>", msg.ViewerName), nil
	}
	req, err := in.RequestSlot(ctx, msg.ChannelID, msg.ViewerID, msg.ViewerName, args)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("@%s %s added to the request queue", msg.ViewerName, req.Slot), nil
}

// RequestSlot runs the slot request pipeline: open check, blacklist,
// cooldown, rate limit, insert, cooldown start, widget refresh.
func (in *Interpreter) RequestSlot(ctx context.Context, channelID uint, viewerID, viewerName, slot string) (*db.SlotRequest, error) {
	slot = strings.TrimSpace(slot)
	if slot == "" || len(slot) > 128 {
		return nil, apperr.New(apperr.CodeValidationFailed, "slot name must be 1 to 128 characters")
	}
	if !in.settings.Bool(ctx, channelID, db.ConfigKeySlotRequestsOpen) {
		return nil, apperr.New(apperr.CodeValidationFailed, "slot requests are closed")
	}

	blocked, err := in.store.IsSlotBlacklisted(ctx, channelID, slot)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "check blacklist", err)
	}
	if blocked {
		return nil, apperr.New(apperr.CodeValidationFailed, "%s is blacklisted", slot)
	}

	policy := limiter.SlotRequest.WithCooldown(in.settings.Seconds(ctx, channelID, db.ConfigKeySlotRequestCooldown))
	if err := in.limits.Admit(ctx, channelID, viewerID, policy); err != nil {
		return nil, err
	}

	req := &db.SlotRequest{
		ChannelID:  channelID,
		ViewerID:   viewerID,
		ViewerName: viewerName,
		Slot:       slot,
	}
	if err := in.store.CreateSlotRequest(ctx, req); err != nil {
		return nil, apperr.Wrap(apperr.CodeSideEffectFailed, "store slot request", err)
	}
	if err := in.limits.StartCooldown(ctx, channelID, viewerID, policy); err != nil {
		log.Warn("Starting slot request cooldown of %s failed: %v", viewerName, err)
	}

	in.sink.Emit(ctx, channelID, &widget.RequestAdd{
		RequestID:  req.ID,
		ViewerID:   viewerID,
		ViewerName: viewerName,
		Slot:       req.Slot,
	})
	log.Info("%s requested %q in channel %d", viewerName, req.Slot, channelID)
	return req, nil
}

func (in *Interpreter) handleJoin(ctx context.Context, msg Message, team string) (string, error) {
	battle, err := in.store.CurrentPointsBattle(ctx, msg.ChannelID)
	if err != nil {
		return "", err
	}
	if battle == nil || battle.Status != db.BattleRunning {
		return fmt.Sprintf("@%s no active battle", msg.ViewerName), nil
	}
	if team == "" {
		return fmt.Sprintf("@%s pick a team: !join %s or !join %s", msg.ViewerName, battle.TeamA, battle.TeamB), nil
	}

	entry, created, err := in.store.JoinPointsBattle(ctx, battle.ID, msg.ViewerID, msg.ViewerName, team)
	switch {
	case errors.Is(err, db.ErrBattleNotRunning):
		return fmt.Sprintf("@%s no active battle", msg.ViewerName), nil
	case errors.Is(err, db.ErrUnknownTeam):
		return fmt.Sprintf("@%s pick a team: !join %s or !join %s", msg.ViewerName, battle.TeamA, battle.TeamB), nil
	case errors.Is(err, db.ErrInsufficientPoints):
		return fmt.Sprintf("@%s joining costs %d points", msg.ViewerName, battle.EntryCost), nil
	case err != nil:
		return "", err
	}
	if !created {
		return fmt.Sprintf("@%s you already joined %s", msg.ViewerName, entry.Team), nil
	}

	totals, err := in.store.PointsBattleTotals(ctx, battle)
	if err != nil {
		log.Warn("Totalling points battle %d failed: %v", battle.ID, err)
	} else {
		in.sink.Emit(ctx, msg.ChannelID, &widget.PBEntries{
			TeamACount: totals.TeamACount,
			TeamBCount: totals.TeamBCount,
			PoolA:      totals.PoolA,
			PoolB:      totals.PoolB,
		})
	}
	return fmt.Sprintf("@%s joined %s", msg.ViewerName, entry.Team), nil
}

func (in *Interpreter) handlePoints(ctx context.Context, msg Message) (string, error) {
	balance, err := in.store.ViewerBalance(ctx, msg.ChannelID, msg.ViewerID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("@%s you have %d points", msg.ViewerName, balance), nil
}

func (in *Interpreter) handleRedeem(ctx context.Context, msg Message, name string) (string, error) {
	if name == "" {
		return fmt.Sprintf("@%s usage: !redeem <item>", msg.ViewerName), nil
	}
	item, err := in.store.FindStoreItem(ctx, msg.ChannelID, name)
	if err != nil {
		return "", err
	}
	if item == nil {
		return fmt.Sprintf("@%s there is no item called %s", msg.ViewerName, name), nil
	}

	now := in.now()
	if item.CooldownSeconds > 0 {
		last, err := in.store.LastRedemption(ctx, item.ID, msg.ViewerID)
		if err != nil {
			return "", err
		}
		if last != nil {
			until := last.CreatedAt.Add(time.Duration(item.CooldownSeconds) * time.Second)
			if now.Before(until) {
				return "", apperr.Cooldown(until.Sub(now))
			}
		}
	}

	redemption, err := in.store.Redeem(ctx, item, msg.ViewerID, msg.ViewerName, now)
	if errors.Is(err, db.ErrInsufficientPoints) {
		return fmt.Sprintf("@%s %s costs %d points", msg.ViewerName, item.Name, item.Cost), nil
	}
	if err != nil {
		return "", err
	}

	in.sink.Emit(ctx, msg.ChannelID, &widget.StoreRedeemed{
		RedemptionID: redemption.ID,
		ViewerName:   msg.ViewerName,
		Item:         item.Name,
	})
	log.Info("%s redeemed %q in channel %d", msg.ViewerName, item.Name, msg.ChannelID)
	return fmt.Sprintf("@%s redeemed %s", msg.ViewerName, item.Name), nil
}

func (in *Interpreter) scanHotwords(ctx context.Context, msg Message) error {
	hit, err := in.words.Scan(ctx, msg.ChannelID, msg.ViewerID, msg.ViewerName, msg.Text)
	if err != nil {
		return log.Error("Scanning hot words in channel %d", err, msg.ChannelID)
	}
	if hit == nil {
		return nil
	}
	in.sink.Emit(ctx, msg.ChannelID, &widget.HotWordHit{
		HotWordID:  hit.Word.ID,
		Phrase:     hit.Word.Phrase,
		ViewerName: hit.ViewerName,
		Reward:     hit.Word.RewardPoints,
		At:         hit.At,
	})
	return nil
}
