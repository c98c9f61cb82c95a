package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/env"
	"github.com/nantokaworks/guild-raffle/internal/notification"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.twitch.tv/helix"
	// Twitchのチャットは1メッセージ500文字まで
	maxMessageRunes = 500
)

var (
	ErrNotConfigured  = errors.New("twitch chat is not configured")
	ErrMessageDropped = errors.New("chat message was dropped")
)

// ChatClient sends messages to the broadcaster's chat through the Helix API.
type ChatClient struct {
	baseURL       string
	clientID      string
	accessToken   string
	broadcasterID string
	senderID      string
	httpClient    *http.Client
}

// NewChatClient builds a client from the process configuration.
// The bot user sends messages when configured, otherwise the broadcaster does.
func NewChatClient(cfg env.Config) *ChatClient {
	sender := cfg.TwitchBotUserID
	if sender == "" {
		sender = cfg.TwitchUserID
	}
	return &ChatClient{
		baseURL:       defaultBaseURL,
		clientID:      cfg.ClientID,
		accessToken:   cfg.TwitchAccessToken,
		broadcasterID: cfg.TwitchUserID,
		senderID:      sender,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the client at another Helix endpoint.
func (c *ChatClient) WithBaseURL(baseURL string) *ChatClient {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type sendChatRequest struct {
	BroadcasterID        string `json:"broadcaster_id"`
	SenderID             string `json:"sender_id"`
	Message              string `json:"message"`
	ReplyParentMessageID string `json:"reply_parent_message_id,omitempty"`
}

type sendChatResponse struct {
	Data []struct {
		MessageID  string `json:"message_id"`
		IsSent     bool   `json:"is_sent"`
		DropReason *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"drop_reason"`
	} `json:"data"`
}

// SendChatMessage posts text to chat.
func (c *ChatClient) SendChatMessage(ctx context.Context, text string) error {
	return c.send(ctx, "", text)
}

// Reply posts text as a threaded reply to parentID.
func (c *ChatClient) Reply(ctx context.Context, parentID, text string) error {
	return c.send(ctx, parentID, text)
}

func (c *ChatClient) send(ctx context.Context, parentID, text string) error {
	if c.clientID == "" || c.accessToken == "" || c.broadcasterID == "" {
		return ErrNotConfigured
	}
	text = truncate(strings.TrimSpace(text))
	if text == "" {
		return nil
	}

	body, err := json.Marshal(sendChatRequest{
		BroadcasterID:        c.broadcasterID,
		SenderID:             c.senderID,
		Message:              text,
		ReplyParentMessageID: parentID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API request failed with status: %d", resp.StatusCode)
	}

	var result sendChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(result.Data) > 0 && !result.Data[0].IsSent {
		reason := "unknown"
		if dr := result.Data[0].DropReason; dr != nil {
			reason = dr.Code + ": " + dr.Message
		}
		return fmt.Errorf("%w (%s)", ErrMessageDropped, reason)
	}

	logger.Debug("Chat message sent", zap.String("message", text))
	return nil
}

// Publish sends a notice's chat text. Live state updates stay off chat.
func (c *ChatClient) Publish(ctx context.Context, n notification.Notice) error {
	if n.Live || n.Message == "" {
		return nil
	}
	return c.SendChatMessage(ctx, n.Message)
}

func truncate(text string) string {
	r := []rune(text)
	if len(r) <= maxMessageRunes {
		return text
	}
	return string(r[:maxMessageRunes])
}
