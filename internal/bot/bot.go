// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package bot implements the interactive chat layer: commands, the inline
// menu, keyword edits and the paywall unlock button.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"newshound/internal/config"
	"newshound/internal/monitor"
	"newshound/internal/telegram"
	"newshound/internal/unlock"
)

// Config configures a [Bot].
type Config struct {
	Store    *config.Store
	Client   *telegram.Client
	Engine   *monitor.Engine
	Unlocker *unlock.Helper
	Logger   *slog.Logger
	// Sleep acts as an interruptible time.Sleep, but can be mocked for
	// testing.
	Sleep func(context.Context, time.Duration) bool
}

// Bot dispatches incoming Telegram updates.
type Bot struct {
	cfg      *config.Store
	tg       *telegram.Client
	engine   *monitor.Engine
	unlocker *unlock.Helper
	slog     *slog.Logger
	sleep    func(context.Context, time.Duration) bool
}

// New returns a Bot with unset config fields defaulted.
func New(cfg Config) *Bot {
	b := &Bot{
		cfg:      cfg.Store,
		tg:       cfg.Client,
		engine:   cfg.Engine,
		unlocker: cfg.Unlocker,
		slog:     cfg.Logger,
		sleep:    cfg.Sleep,
	}
	if b.slog == nil {
		b.slog = slog.Default()
	}
	if b.sleep == nil {
		b.sleep = func(ctx context.Context, d time.Duration) bool {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return true
			case <-ctx.Done():
				return false
			}
		}
	}
	return b
}

// Poll long polls for updates until ctx is canceled, handling them one at a
// time. Update handling errors are logged, not fatal.
func (b *Bot) Poll(ctx context.Context) error {
	var offset int64
	for {
		updates, err := b.tg.GetUpdates(ctx, offset, telegram.LongPollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.slog.Warn("getting updates failed", "error", err)
			if !b.sleep(ctx, 5*time.Second) {
				return ctx.Err()
			}
			continue
		}
		for _, upd := range updates {
			offset = upd.ID + 1
			if err := b.HandleUpdate(ctx, upd); err != nil {
				b.slog.Warn("handling update failed", "update_id", upd.ID, "error", err)
			}
		}
	}
}

// HandleUpdate processes a single update.
func (b *Bot) HandleUpdate(ctx context.Context, upd telegram.Update) error {
	switch {
	case upd.CallbackQuery != nil:
		return b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		return b.handleMessage(ctx, upd.Message)
	}
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) error {
	if msg.From == nil || msg.Chat == nil {
		return nil
	}

	c, err := b.cfg.Load()
	if err != nil {
		return err
	}

	// First /start ever claims the bot.
	if c.OwnerID == 0 {
		if strings.HasPrefix(msg.Text, "/start") {
			return b.register(ctx, msg)
		}
		return nil
	}
	if msg.From.ID != c.OwnerID {
		// Strangers get silence.
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	switch cmd {
	case "/start", "/menu":
		return b.sendMenu(ctx, msg.Chat.ID, &c)
	case "/status":
		_, err := b.tg.SendMessage(ctx, msg.Chat.ID, status(&c), telegram.SendOptions{})
		return err
	case "/check":
		_, err := b.engine.Run(ctx, msg.Chat.ID)
		return err
	case "/keywords":
		_, err := b.tg.SendMessage(ctx, msg.Chat.ID, keywordList(&c), telegram.SendOptions{})
		return err
	case "/sethere":
		if err := b.cfg.Mutate(func(c *config.Config) error {
			c.ChatID = msg.Chat.ID
			return nil
		}); err != nil {
			return err
		}
		_, err := b.tg.SendMessage(ctx, msg.Chat.ID, "News will be delivered to this chat from now on.", telegram.SendOptions{})
		return err
	case "/reset":
		return b.reset(ctx, msg.Chat.ID)
	}

	if strings.HasPrefix(text, "@") || strings.HasPrefix(text, "#") {
		return b.editKeywords(ctx, msg.Chat.ID, text)
	}
	return nil
}

func (b *Bot) register(ctx context.Context, msg *telegram.Message) error {
	if err := b.cfg.Mutate(func(c *config.Config) error {
		c.OwnerID = msg.From.ID
		return nil
	}); err != nil {
		return err
	}
	b.slog.Info("registered owner", "user_id", msg.From.ID)
	const welcome = "Hi! I watch the news for your keywords.\n\n" +
		"Send `@keyword` to start watching one, `#keyword` to stop. " +
		"Use /menu for everything else."
	if _, err := b.tg.SendMessage(ctx, msg.Chat.ID, welcome, telegram.SendOptions{}); err != nil {
		return err
	}
	c, err := b.cfg.Load()
	if err != nil {
		return err
	}
	return b.sendMenu(ctx, msg.Chat.ID, &c)
}

func (b *Bot) sendMenu(ctx context.Context, chatID int64, c *config.Config) error {
	toggle := "▶️ Start monitoring"
	if c.MonitoringOn {
		toggle = "⏸ Stop monitoring"
	}
	_, err := b.tg.SendMessage(ctx, chatID, "What do you want to do?", telegram.SendOptions{
		Keyboard: [][]telegram.Button{
			{
				{Text: "🔍 Check now", CallbackData: "menu:check_now"},
				{Text: toggle, CallbackData: "menu:toggle_monitoring"},
			},
			{
				{Text: "ℹ️ Status", CallbackData: "menu:status"},
				{Text: "🏷 Keywords", CallbackData: "menu:keywords"},
			},
		},
	})
	return err
}

func status(c *config.Config) string {
	state := "off"
	if c.MonitoringOn {
		state = "on"
	}
	dest := "owner chat"
	if c.ChatID != 0 {
		dest = fmt.Sprintf("chat %d", c.ChatID)
	}
	return fmt.Sprintf("Monitoring is **%s**.\nKeywords: %d\nDelivered articles remembered: %d\nDelivering to: %s",
		state, len(c.Keywords), len(c.History), dest)
}

func keywordList(c *config.Config) string {
	if len(c.Keywords) == 0 {
		return "No keywords configured. Send `@keyword` to add one."
	}
	var sb strings.Builder
	sb.WriteString("Watching:\n")
	for _, kw := range c.Keywords {
		sb.WriteString("• " + kw + "\n")
	}
	return sb.String()
}

// editKeywords handles freeform keyword edits: messages starting with @ add
// keywords, with # remove them. Multiple keywords are separated by commas or
// the words OR/OU.
func (b *Bot) editKeywords(ctx context.Context, chatID int64, text string) error {
	add := strings.HasPrefix(text, "@")
	items := splitKeywords(text[1:])

	var changed []string
	if err := b.cfg.Mutate(func(c *config.Config) error {
		if add {
			changed = c.AddKeywords(items)
		} else {
			changed = c.RemoveKeywords(items)
		}
		return nil
	}); err != nil {
		return err
	}

	var reply string
	switch {
	case len(changed) == 0 && add:
		reply = "Already watching all of those."
	case len(changed) == 0:
		reply = "Wasn't watching any of those."
	case add:
		reply = "Now watching: " + strings.Join(changed, ", ")
	default:
		reply = "Stopped watching: " + strings.Join(changed, ", ")
	}
	_, err := b.tg.SendMessage(ctx, chatID, reply, telegram.SendOptions{})
	return err
}

func splitKeywords(s string) []string {
	for _, sep := range []string{" OR ", " or ", " OU ", " ou "} {
		s = strings.ReplaceAll(s, sep, ",")
	}
	var items []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(item), "@#"))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// reset wipes the configuration after a short countdown shown via message
// edits.
func (b *Bot) reset(ctx context.Context, chatID int64) error {
	msgID, err := b.tg.SendMessage(ctx, chatID, "Resetting everything in 3…", telegram.SendOptions{})
	if err != nil {
		return err
	}
	for _, n := range []int{2, 1} {
		if !b.sleep(ctx, time.Second) {
			return ctx.Err()
		}
		if err := b.tg.EditMessageText(ctx, chatID, msgID, fmt.Sprintf("Resetting everything in %d…", n)); err != nil {
			return err
		}
	}
	if !b.sleep(ctx, time.Second) {
		return ctx.Err()
	}
	if err := b.cfg.Reset(); err != nil {
		return err
	}
	return b.tg.EditMessageText(ctx, chatID, msgID, "Everything wiped. Send /start to begin again.")
}

// callbackAction describes one inline button action. Owner-only actions are
// refused for everyone but the owner; the unlock action works for anyone who
// can see the message.
type callbackAction struct {
	ownerOnly bool
	handle    func(context.Context, *Bot, *telegram.CallbackQuery) error
}

var callbackActions = map[string]callbackAction{
	"menu:check_now": {ownerOnly: true, handle: func(ctx context.Context, b *Bot, cb *telegram.CallbackQuery) error {
		if err := b.tg.AnswerCallbackQuery(ctx, cb.ID, "Checking…", false); err != nil {
			return err
		}
		_, err := b.engine.Run(ctx, cb.Message.Chat.ID)
		return err
	}},
	"menu:toggle_monitoring": {ownerOnly: true, handle: func(ctx context.Context, b *Bot, cb *telegram.CallbackQuery) error {
		var on bool
		if err := b.cfg.Mutate(func(c *config.Config) error {
			c.MonitoringOn = !c.MonitoringOn
			on = c.MonitoringOn
			return nil
		}); err != nil {
			return err
		}
		state := "off"
		if on {
			state = "on"
		}
		return b.tg.AnswerCallbackQuery(ctx, cb.ID, "Monitoring is now "+state+".", false)
	}},
	"menu:status": {ownerOnly: true, handle: func(ctx context.Context, b *Bot, cb *telegram.CallbackQuery) error {
		if err := b.tg.AnswerCallbackQuery(ctx, cb.ID, "", false); err != nil {
			return err
		}
		c, err := b.cfg.Load()
		if err != nil {
			return err
		}
		_, err = b.tg.SendMessage(ctx, cb.Message.Chat.ID, status(&c), telegram.SendOptions{})
		return err
	}},
	"menu:keywords": {ownerOnly: true, handle: func(ctx context.Context, b *Bot, cb *telegram.CallbackQuery) error {
		if err := b.tg.AnswerCallbackQuery(ctx, cb.ID, "", false); err != nil {
			return err
		}
		c, err := b.cfg.Load()
		if err != nil {
			return err
		}
		_, err = b.tg.SendMessage(ctx, cb.Message.Chat.ID, keywordList(&c), telegram.SendOptions{})
		return err
	}},
	monitor.Unlock: {handle: func(ctx context.Context, b *Bot, cb *telegram.CallbackQuery) error {
		return b.unlockArticle(ctx, cb)
	}},
}

func (b *Bot) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) error {
	if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}

	action, ok := callbackActions[cb.Data]
	if !ok {
		return b.tg.AnswerCallbackQuery(ctx, cb.ID, "I don't know what to do with this button.", true)
	}
	if action.ownerOnly {
		c, err := b.cfg.Load()
		if err != nil {
			return err
		}
		if cb.From.ID != c.OwnerID {
			return b.tg.AnswerCallbackQuery(ctx, cb.ID, "This button is not for you.", true)
		}
	}
	return action.handle(ctx, b, cb)
}

// unlockArticle recovers the article link from the message the button is
// attached to and produces a paywall-free link for it.
func (b *Bot) unlockArticle(ctx context.Context, cb *telegram.CallbackQuery) error {
	link := articleLink(cb.Message)
	if link == "" {
		return b.tg.AnswerCallbackQuery(ctx, cb.ID, "Can't find the article link on this message.", true)
	}

	if b.unlocker.Mode() == unlock.ModeAssisted {
		if err := b.tg.AnswerCallbackQuery(ctx, cb.ID, "", false); err != nil {
			return err
		}
		text := fmt.Sprintf("Open %s and paste this link:\n`%s`", b.unlocker.ServiceURL(), link)
		_, err := b.tg.SendMessage(ctx, cb.Message.Chat.ID, text, telegram.SendOptions{ReplyTo: cb.Message.ID})
		return err
	}

	unlocked, err := b.unlocker.Bypass(ctx, link)
	if err != nil {
		if errors.Is(err, unlock.ErrNotUnlocked) {
			return b.tg.AnswerCallbackQuery(ctx, cb.ID, "This article can't be unlocked.", true)
		}
		if answerErr := b.tg.AnswerCallbackQuery(ctx, cb.ID, "Unlock service is unreachable, try later.", true); answerErr != nil {
			return errors.Join(err, answerErr)
		}
		return err
	}
	if err := b.tg.AnswerCallbackQuery(ctx, cb.ID, "", false); err != nil {
		return err
	}
	_, err = b.tg.SendMessage(ctx, cb.Message.Chat.ID, "🔓 "+unlocked, telegram.SendOptions{
		ReplyTo:            cb.Message.ID,
		DisableLinkPreview: true,
	})
	return err
}

// articleLink extracts the article URL from the first URL button of the
// message's inline keyboard.
func articleLink(msg *telegram.Message) string {
	if msg == nil || msg.ReplyMarkup == nil {
		return ""
	}
	for _, row := range msg.ReplyMarkup.InlineKeyboard {
		for _, btn := range row {
			if btn.URL != "" {
				return btn.URL
			}
		}
	}
	return ""
}
