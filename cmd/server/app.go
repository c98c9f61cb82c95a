package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nantokaworks/guild-raffle/internal/admin"
	"github.com/nantokaworks/guild-raffle/internal/cooldown"
	"github.com/nantokaworks/guild-raffle/internal/duel"
	"github.com/nantokaworks/guild-raffle/internal/env"
	"github.com/nantokaworks/guild-raffle/internal/ledger"
	"github.com/nantokaworks/guild-raffle/internal/localdb"
	"github.com/nantokaworks/guild-raffle/internal/lottery"
	"github.com/nantokaworks/guild-raffle/internal/notification"
	"github.com/nantokaworks/guild-raffle/internal/session"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"github.com/nantokaworks/guild-raffle/internal/twitchapi"
	"github.com/nantokaworks/guild-raffle/internal/twitcheventsub"
	"github.com/nantokaworks/guild-raffle/internal/webserver"
	"go.uber.org/zap"
)

// app holds the long-lived components and their start/stop order.
type app struct {
	cfg        env.Config
	dispatcher *notification.Dispatcher
	scheduler  *session.Scheduler
	manager    *session.Manager
	duels      *duel.Engine
	server     *webserver.Server
	chat       *twitcheventsub.Client
}

func newApp(cfg env.Config) (*app, error) {
	rule, err := lottery.ParseRule(cfg.LotteryWinnerRule)
	if err != nil {
		return nil, fmt.Errorf("invalid LOTTERY_WINNER_RULE: %w", err)
	}

	// 手数料の入金先アカウントを用意しておく
	if err := localdb.UpsertLedgerAccount(cfg.HouseAccount); err != nil {
		return nil, fmt.Errorf("failed to prepare house account: %w", err)
	}

	l := ledger.NewRetrying(ledger.NewSQLiteLedger(), ledger.RetryConfig{
		MaxTries:        cfg.LedgerMaxRetries,
		InitialInterval: cfg.LedgerRetryBase(),
		MaxInterval:     cfg.LedgerRetryBase() * 20,
	})

	hub := webserver.NewWSHub()
	publishers := []notification.Publisher{hub}
	var chatClient *twitchapi.ChatClient
	if cfg.ChatEnabled() {
		chatClient = twitchapi.NewChatClient(cfg)
		publishers = append(publishers, chatClient)
	}
	dispatcher := notification.NewDispatcher(100, publishers...)

	admins := admin.NewStore(cfg.MainAdminIDs)
	if err := admins.SeedMainAdmins(context.Background()); err != nil {
		logger.Warn("Failed to seed main admins", zap.Error(err))
	}

	rng := lottery.SecureRandom{}
	scheduler := session.NewScheduler(cfg.LivenessInterval(), dispatcher)
	manager := session.NewManager(session.Deps{
		Ledger:            l,
		Sink:              dispatcher,
		History:           session.DBHistory{},
		Random:            rng,
		HouseAccount:      cfg.HouseAccount,
		FeeRate:           cfg.FeeRate,
		Rule:              rule,
		PayoutConcurrency: cfg.PayoutConcurrency,
	}, admins, scheduler, cooldown.NewTracker(cfg.Cooldown()))

	duels := duel.NewEngine(duel.Deps{
		Ledger:       l,
		Sink:         dispatcher,
		Random:       rng,
		AcceptWindow: cfg.DuelAcceptWindow(),
	})

	a := &app{
		cfg:        cfg,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		manager:    manager,
		duels:      duels,
	}

	opts := webserver.Options{
		Manager: manager,
		Duels:   duels,
		Admins:  admins,
		Ledger:  l,
		Hub:     hub,
	}
	if chatClient != nil {
		handler := twitcheventsub.NewHandler(manager, duels, admins, chatClient, rng)
		a.chat = twitcheventsub.NewClient(cfg, handler)
		// nilの*Clientをインターフェースに入れない
		opts.Chat = a.chat
	}
	a.server = webserver.New(opts)
	return a, nil
}

func (a *app) start(port int) error {
	a.dispatcher.Start()

	if err := a.server.Start(port); err != nil {
		return err
	}

	if a.chat != nil {
		if err := a.chat.Start(); err != nil && !errors.Is(err, twitcheventsub.ErrNotConfigured) {
			logger.Error("Failed to start chat integration", zap.Error(err))
		}
	} else {
		logger.Info("Twitch chat integration disabled (CLIENT_ID / TWITCH_USER_ID / TWITCH_ACCESS_TOKEN not set)")
	}
	return nil
}

// shutdown stops intake first, then flushes queued notices.
// 実行中のイベントは清算しない
func (a *app) shutdown(ctx context.Context) {
	if a.chat != nil {
		a.chat.Stop()
	}
	a.scheduler.Stop()
	a.duels.Stop()
	a.dispatcher.Stop()
	a.server.Shutdown(ctx)
}
