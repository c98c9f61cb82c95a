package twitcheventsub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/joeyak/go-twitch-eventsub/v3"
	"github.com/nantokaworks/guild-raffle/internal/env"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

// コマンド1件あたりの処理時間の上限
const commandTimeout = 30 * time.Second

var ErrNotConfigured = errors.New("twitch chat is not configured")

// Client subscribes to the broadcaster's chat and feeds messages to a Handler.
type Client struct {
	cfg     env.Config
	handler *Handler

	mu        sync.Mutex
	client    *twitch.Client
	running   bool
	connected bool
	lastError error
}

func NewClient(cfg env.Config, handler *Handler) *Client {
	return &Client{cfg: cfg, handler: handler}
}

// Start connects to EventSub in the background.
func (c *Client) Start() error {
	if !c.cfg.ChatEnabled() {
		return ErrNotConfigured
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.client = c.setup()
	c.running = true
	client := c.client
	c.mu.Unlock()

	go func() {
		logger.Info("Connecting to EventSub...")
		if err := client.Connect(); err != nil {
			logger.Error("Failed to connect EventSub", zap.Error(err))
			c.setState(false, err)
		}
	}()
	return nil
}

// Stop closes the EventSub connection.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.running {
		c.client.Close()
		c.running = false
		c.connected = false
	}
}

// IsConnected returns whether EventSub is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LastError returns the last EventSub error
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Client) setState(connected bool, err error) {
	c.mu.Lock()
	c.connected = connected
	c.lastError = err
	c.mu.Unlock()
}

func (c *Client) setup() *twitch.Client {
	client := twitch.NewClient()

	client.OnError(func(err error) {
		logger.Error("EventSub error", zap.Error(err))
		c.setState(false, err)
	})
	client.OnWelcome(func(message twitch.WelcomeMessage) {
		logger.Info("EventSub connected successfully")
		c.setState(true, nil)
		c.subscribe(message.Payload.Session.ID)
	})
	client.OnNotification(func(message twitch.NotificationMessage) {
		if message.Payload.Subscription.Type != twitch.SubChannelChatMessage {
			logger.Debug("Unhandled EventSub notification",
				zap.String("type", string(message.Payload.Subscription.Type)))
			return
		}

		var evt twitch.EventChannelChatMessage
		if err := json.Unmarshal(*message.Payload.Event, &evt); err != nil {
			logger.Error("Failed to parse channel chat message event", zap.Error(err))
			return
		}
		// 清算や台帳呼び出しで受信ループを止めないよう別goroutineで処理
		go c.handleChatMessage(evt)
	})
	client.OnKeepAlive(func(message twitch.KeepAliveMessage) {
		c.setState(true, nil)
	})
	client.OnRevoke(func(message twitch.RevokeMessage) {
		logger.Warn("EventSub subscription revoked",
			zap.String("type", string(message.Payload.Subscription.Type)),
			zap.String("status", message.Payload.Subscription.Status))
	})

	return client
}

func (c *Client) subscribe(sessionID string) {
	userID := c.cfg.TwitchBotUserID
	if userID == "" {
		userID = c.cfg.TwitchUserID
	}

	logger.Info("Subscribing to EventSub event", zap.String("event", string(twitch.SubChannelChatMessage)))
	_, err := twitch.SubscribeEvent(twitch.SubscribeRequest{
		SessionID:   sessionID,
		ClientID:    c.cfg.ClientID,
		AccessToken: c.cfg.TwitchAccessToken,
		Event:       twitch.SubChannelChatMessage,
		Condition: map[string]string{
			"broadcaster_user_id": c.cfg.TwitchUserID,
			"user_id":             userID,
		},
	})
	if err != nil {
		logger.Error("Failed to subscribe to event",
			zap.String("event", string(twitch.SubChannelChatMessage)),
			zap.Error(err))
		c.setState(true, err)
		return
	}
	logger.Info("Successfully subscribed to event", zap.String("event", string(twitch.SubChannelChatMessage)))
}

func (c *Client) handleChatMessage(evt twitch.EventChannelChatMessage) {
	if c.handler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	c.handler.HandleMessage(ctx, Message{
		ID:   evt.MessageId,
		User: evt.Chatter.ChatterUserName,
		Text: evt.Message.Text,
	})
}
