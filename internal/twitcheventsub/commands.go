package twitcheventsub

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/admin"
	"github.com/nantokaworks/guild-raffle/internal/duel"
	"github.com/nantokaworks/guild-raffle/internal/lottery"
	"github.com/nantokaworks/guild-raffle/internal/session"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Command is one parsed "!name args..." chat line.
type Command struct {
	Name string
	Args []string
}

// ParseCommand parses text starting with "!". Names are case-insensitive.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return Command{}, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// Message is the part of a chat message the commands need.
type Message struct {
	ID   string
	User string
	Text string
}

// Events is the event session surface used from chat.
type Events interface {
	CreateLottery(ctx context.Context, adminID string, p session.LotteryParams) (*session.Session, error)
	CreateGiveaway(ctx context.Context, adminID string, p session.GiveawayParams) (*session.Session, error)
	Submit(ctx context.Context, kind session.Kind, participantID, requestID string) (*session.Session, int, error)
	CloseKind(ctx context.Context, adminID string, kind session.Kind) (*session.Settlement, error)
}

// Duels is the deathroll surface used from chat.
type Duels interface {
	Challenge(ctx context.Context, challengerID, targetID string, wager int64) (duel.Duel, error)
	Accept(ctx context.Context, duelID, actorID string) (duel.Duel, error)
	PendingFor(targetID string) (duel.Duel, bool)
}

// Admins edits the admin list.
type Admins interface {
	Add(ctx context.Context, actor, identity string) error
	Remove(ctx context.Context, actor, identity string) error
}

// Replier answers a chat message.
type Replier interface {
	Reply(ctx context.Context, parentID, text string) error
}

// Handler dispatches chat commands.
type Handler struct {
	events  Events
	duels   Duels
	admins  Admins
	replier Replier
	random  lottery.RandomSource
}

func NewHandler(events Events, duels Duels, admins Admins, replier Replier, rng lottery.RandomSource) *Handler {
	if rng == nil {
		rng = lottery.SecureRandom{}
	}
	return &Handler{events: events, duels: duels, admins: admins, replier: replier, random: rng}
}

// HandleMessage runs the command in msg, if any. It reports whether msg was a known command.
func (h *Handler) HandleMessage(ctx context.Context, msg Message) bool {
	cmd, ok := ParseCommand(msg.Text)
	if !ok {
		return false
	}
	user := normalizeUser(msg.User)
	if user == "" {
		return false
	}

	switch cmd.Name {
	case "ticket":
		h.submit(ctx, msg, user, session.KindLottery)
	case "join":
		h.submit(ctx, msg, user, session.KindGiveaway)
	case "deathroll":
		h.challenge(ctx, msg, user, cmd.Args)
	case "accept":
		h.accept(ctx, msg, user)
	case "roll":
		h.roll(ctx, msg, user)
	case "lottery":
		h.startLottery(ctx, msg, user, cmd.Args)
	case "giveaway":
		h.startGiveaway(ctx, msg, user, cmd.Args)
	case "close":
		h.close(ctx, msg, user, cmd.Args)
	case "addadmin":
		h.editAdmin(ctx, msg, user, cmd.Args, true)
	case "removeadmin":
		h.editAdmin(ctx, msg, user, cmd.Args, false)
	default:
		return false
	}

	logger.Debug("Chat command handled",
		zap.String("command", cmd.Name),
		zap.String("user", user),
		zap.String("message_id", msg.ID))
	return true
}

func normalizeUser(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

func (h *Handler) reply(ctx context.Context, msg Message, user, text string) {
	if h.replier == nil || text == "" {
		return
	}
	if err := h.replier.Reply(ctx, msg.ID, "@"+user+" "+text); err != nil {
		logger.Warn("Failed to reply in chat", zap.String("user", user), zap.Error(err))
	}
}

func (h *Handler) submit(ctx context.Context, msg Message, user string, kind session.Kind) {
	// メッセージIDをリクエストIDにして再配信時の二重参加を防ぐ
	sess, count, err := h.events.Submit(ctx, kind, user, msg.ID)
	if err != nil {
		h.reply(ctx, msg, user, session.Reason(err))
		return
	}
	if kind == session.KindGiveaway {
		h.reply(ctx, msg, user, fmt.Sprintf("you joined the giveaway for %s!", sess.Description()))
		return
	}
	h.reply(ctx, msg, user, fmt.Sprintf("you now have %d ticket(s) for %s.", count, sess.Description()))
}

func (h *Handler) challenge(ctx context.Context, msg Message, user string, args []string) {
	if len(args) < 2 {
		h.reply(ctx, msg, user, "Usage: !deathroll <user> <wager>")
		return
	}
	wager, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		h.reply(ctx, msg, user, duel.Reason(duel.ErrInvalidWager))
		return
	}
	// 成功時の告知はエンジン側で行う
	if _, err := h.duels.Challenge(ctx, user, normalizeUser(args[0]), wager); err != nil {
		h.reply(ctx, msg, user, duel.Reason(err))
	}
}

func (h *Handler) accept(ctx context.Context, msg Message, user string) {
	d, ok := h.duels.PendingFor(user)
	if !ok {
		h.reply(ctx, msg, user, duel.Reason(duel.ErrNotFound))
		return
	}
	if _, err := h.duels.Accept(ctx, d.ID, user); err != nil {
		h.reply(ctx, msg, user, duel.Reason(err))
	}
}

func (h *Handler) roll(ctx context.Context, msg Message, user string) {
	v, err := lottery.Between(h.random, 0, 100)
	if err != nil {
		logger.Error("Failed to roll", zap.Error(err))
		return
	}
	h.reply(ctx, msg, user, fmt.Sprintf("rolled %d!", v))
}

func parseMinutes(s string) (time.Duration, error) {
	m, err := strconv.Atoi(s)
	if err != nil || m <= 0 {
		return 0, fmt.Errorf("invalid minutes %q: %w", s, session.ErrInvalidConfig)
	}
	return time.Duration(m) * time.Minute, nil
}

func (h *Handler) startLottery(ctx context.Context, msg Message, user string, args []string) {
	if len(args) < 4 {
		h.reply(ctx, msg, user, "Usage: !lottery <minutes> <price> <max> <description>")
		return
	}
	d, err := parseMinutes(args[0])
	if err != nil {
		h.reply(ctx, msg, user, session.Reason(err))
		return
	}
	price, err := decimal.NewFromString(args[1])
	if err != nil {
		h.reply(ctx, msg, user, session.Reason(fmt.Errorf("invalid price %q: %w", args[1], session.ErrInvalidConfig)))
		return
	}
	maxEntries, err := strconv.Atoi(args[2])
	if err != nil {
		h.reply(ctx, msg, user, session.Reason(fmt.Errorf("invalid max %q: %w", args[2], session.ErrInvalidConfig)))
		return
	}

	_, err = h.events.CreateLottery(ctx, user, session.LotteryParams{
		Description: strings.Join(args[3:], " "),
		UnitPrice:   price,
		MaxEntries:  maxEntries,
		Duration:    d,
	})
	if err != nil {
		h.reply(ctx, msg, user, session.Reason(err))
	}
}

func (h *Handler) startGiveaway(ctx context.Context, msg Message, user string, args []string) {
	if len(args) < 2 {
		h.reply(ctx, msg, user, "Usage: !giveaway <minutes> <prize>")
		return
	}
	d, err := parseMinutes(args[0])
	if err != nil {
		h.reply(ctx, msg, user, session.Reason(err))
		return
	}
	_, err = h.events.CreateGiveaway(ctx, user, session.GiveawayParams{
		Prize:    strings.Join(args[1:], " "),
		Duration: d,
	})
	if err != nil {
		h.reply(ctx, msg, user, session.Reason(err))
	}
}

func (h *Handler) close(ctx context.Context, msg Message, user string, args []string) {
	if len(args) < 1 {
		h.reply(ctx, msg, user, "Usage: !close lottery|giveaway")
		return
	}
	kind, err := session.ParseKind(args[0])
	if err != nil {
		h.reply(ctx, msg, user, "Usage: !close lottery|giveaway")
		return
	}
	if _, err := h.events.CloseKind(ctx, user, kind); err != nil {
		h.reply(ctx, msg, user, session.Reason(err))
	}
}

func (h *Handler) editAdmin(ctx context.Context, msg Message, user string, args []string, add bool) {
	target := ""
	if len(args) > 0 {
		target = normalizeUser(args[0])
	}

	var err error
	if add {
		err = h.admins.Add(ctx, user, target)
	} else {
		err = h.admins.Remove(ctx, user, target)
	}
	if err != nil {
		h.reply(ctx, msg, user, admin.Reason(err))
		return
	}

	if add {
		h.reply(ctx, msg, user, fmt.Sprintf("%s was added to the Admin List.", target))
	} else {
		h.reply(ctx, msg, user, fmt.Sprintf("%s was removed from the Admin List.", target))
	}
}
