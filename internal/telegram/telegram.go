// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements the subset of the Telegram Bot API the bot
// needs: sending and editing messages, answering callback queries and long
// polling for updates.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"newshound/internal/request"
	"newshound/internal/tgmarkup"
)

const (
	tgAPI          = "https://api.telegram.org"
	sendRetryLimit = 5 // N attempts to retry message sending
)

// LongPollTimeout is how long Telegram is asked to hold a getUpdates
// connection before answering with an empty result.
const LongPollTimeout = 50 * time.Second

// defaultHTTPClient outlives an idle long poll; [request.DefaultClient]'s
// timeout is shorter than [LongPollTimeout] and would kill it client-side.
var defaultHTTPClient = &http.Client{Timeout: LongPollTimeout + 30*time.Second}

// Update is a single incoming event from the getUpdates long poll.
type Update struct {
	ID            int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Message is an incoming or previously sent chat message.
type Message struct {
	ID          int64        `json:"message_id"`
	From        *User        `json:"from"`
	Chat        *Chat        `json:"chat"`
	Text        string       `json:"text"`
	ReplyMarkup *ReplyMarkup `json:"reply_markup"`
}

// User identifies a Telegram user.
type User struct {
	ID int64 `json:"id"`
}

// Chat identifies a Telegram chat.
type Chat struct {
	ID int64 `json:"id"`
}

// CallbackQuery is sent when a user presses an inline keyboard button.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// ReplyMarkup is an inline keyboard attached to a message.
type ReplyMarkup struct {
	InlineKeyboard [][]Button `json:"inline_keyboard"`
}

// Button is a single inline keyboard button. Exactly one of URL and
// CallbackData should be set.
type Button struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

// Config configures a [Client].
type Config struct {
	Token      string
	HTTPClient *http.Client
	Scrubber   *strings.Replacer
	Logger     *slog.Logger
}

// Client talks to the Telegram Bot API.
type Client struct {
	token    string
	httpc    *http.Client
	scrubber *strings.Replacer
	slog     *slog.Logger
	sleep    func(context.Context, time.Duration) bool
}

// New returns a Client for the given bot token.
func New(cfg Config) *Client {
	c := &Client{
		token:    cfg.Token,
		httpc:    cfg.HTTPClient,
		scrubber: cfg.Scrubber,
		slog:     cfg.Logger,
	}
	if c.httpc == nil {
		c.httpc = defaultHTTPClient
	}
	if c.slog == nil {
		c.slog = slog.Default()
	}
	c.sleep = sleep
	return c
}

// SendOptions are the optional parts of an outgoing message.
type SendOptions struct {
	// Keyboard, if non-empty, is attached as an inline keyboard.
	Keyboard [][]Button
	// ReplyTo makes the message a reply to an existing message.
	ReplyTo int64
	// DisableLinkPreview suppresses the link preview under the message.
	DisableLinkPreview bool
}

type outgoingMessage struct {
	ChatID             int64 `json:"chat_id"`
	ReplyToMessageID   int64 `json:"reply_to_message_id,omitempty"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
	ReplyMarkup *ReplyMarkup `json:"reply_markup,omitempty"`
	tgmarkup.Message
}

type sentMessage struct {
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// SendMessage sends a Markdown-formatted message to chatID and returns the ID
// of the sent message. Rate-limited requests are retried for as long as
// Telegram asks, up to a fixed number of attempts.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (int64, error) {
	msg := &outgoingMessage{
		ChatID:           chatID,
		ReplyToMessageID: opts.ReplyTo,
		Message:          tgmarkup.FromMarkdown(text),
	}
	msg.LinkPreviewOptions.IsDisabled = opts.DisableLinkPreview
	if len(opts.Keyboard) > 0 {
		msg.ReplyMarkup = &ReplyMarkup{InlineKeyboard: opts.Keyboard}
	}

	var (
		sent sentMessage
		err  error
	)
	for i := 0; i < sendRetryLimit; i++ {
		sent, err = makeRequest[sentMessage](ctx, c, "sendMessage", msg)
		if err == nil {
			break
		}

		retryable, wait := isRateLimited(err)
		if !retryable {
			break
		}

		c.slog.Warn("sending rate limited, waiting", slog.Int64("chat_id", chatID), slog.Duration("wait", wait))
		if !c.sleep(ctx, wait) {
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	return sent.Result.MessageID, nil
}

// EditMessageText replaces the text of an existing message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	msg := tgmarkup.FromMarkdown(text)
	_, err := makeRequest[request.IgnoreResponse](ctx, c, "editMessageText", struct {
		ChatID    int64 `json:"chat_id"`
		MessageID int64 `json:"message_id"`
		tgmarkup.Message
	}{ChatID: chatID, MessageID: messageID, Message: msg})
	return err
}

// AnswerCallbackQuery acknowledges a callback query, optionally showing text
// to the user. With showAlert the text pops up as an alert instead of a
// notification.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string, showAlert bool) error {
	_, err := makeRequest[request.IgnoreResponse](ctx, c, "answerCallbackQuery", struct {
		CallbackQueryID string `json:"callback_query_id"`
		Text            string `json:"text,omitempty"`
		ShowAlert       bool   `json:"show_alert,omitempty"`
	}{CallbackQueryID: id, Text: text, ShowAlert: showAlert})
	return err
}

// GetUpdates long polls for updates with IDs greater or equal to offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	res, err := makeRequest[struct {
		Result []Update `json:"result"`
	}](ctx, c, "getUpdates", struct {
		Offset  int64 `json:"offset"`
		Timeout int   `json:"timeout"`
	}{Offset: offset, Timeout: int(timeout.Seconds())})
	if err != nil {
		return nil, err
	}
	return res.Result, nil
}

func makeRequest[Response any](ctx context.Context, c *Client, method string, args any) (Response, error) {
	return request.Make[Response](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        tgAPI + "/bot" + c.token + "/" + method,
		Body:       args,
		HTTPClient: c.httpc,
		Scrubber:   c.scrubber,
	})
}

func isRateLimited(err error) (bool, time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return false, 0
	}

	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
