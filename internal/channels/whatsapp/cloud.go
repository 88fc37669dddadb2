package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/reactd/internal/channels"
	"github.com/nextlevelbuilder/reactd/internal/config"
)

const (
	defaultGraphURL   = "https://graph.facebook.com"
	defaultAPIVersion = "v21.0"
)

// Cloud reacts through the WhatsApp Business Cloud API. chatID is the
// recipient's phone number in international format; messageID is the wamid
// of the message being reacted to.
type Cloud struct {
	*channels.BaseChannel
	client        *http.Client
	endpoint      string
	phoneEndpoint string
	token         string
}

// NewCloud creates a Cloud API channel. A nil client uses a client with a
// 15s timeout.
func NewCloud(cfg config.WhatsAppConfig, client *http.Client) (*Cloud, error) {
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp phone_number_id is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("whatsapp access token is required (REACTD_WHATSAPP_ACCESS_TOKEN)")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultGraphURL
	}
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	phoneEndpoint := fmt.Sprintf("%s/%s/%s", base, version, cfg.PhoneNumberID)
	return &Cloud{
		BaseChannel:   channels.NewBaseChannel("whatsapp", cfg.AllowFrom),
		client:        client,
		endpoint:      phoneEndpoint + "/messages",
		phoneEndpoint: phoneEndpoint,
		token:         cfg.AccessToken,
	}, nil
}

// Start verifies the token by reading the phone number object.
func (c *Cloud) Start(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.phoneEndpoint+"?fields=display_phone_number", nil)
	if err != nil {
		return err
	}
	var phone struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
	}
	if err := c.do(req, &phone); err != nil {
		return fmt.Errorf("whatsapp cloud verify: %w", err)
	}
	c.SetRunning(true)
	slog.Info("whatsapp cloud channel ready", "phone", phone.DisplayPhoneNumber)
	return nil
}

func (c *Cloud) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

type reactionMessage struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Reaction         reactionField `json:"reaction"`
}

type reactionField struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// SetReaction sends a reaction message. An empty emoji removes the reaction.
func (c *Cloud) SetReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if err := c.CheckReady(chatID); err != nil {
		return err
	}
	body, err := json.Marshal(reactionMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               chatID,
		Type:             "reaction",
		Reaction:         reactionField{MessageID: messageID, Emoji: emoji},
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp reaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// graphError is the Graph API error envelope.
type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Cloud) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ge graphError
		if json.Unmarshal(data, &ge) == nil && ge.Error.Message != "" {
			return fmt.Errorf("HTTP %d: %s (code %d)", resp.StatusCode, ge.Error.Message, ge.Error.Code)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
