package driver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/shopclerk/internal/config"
	"github.com/stellarlinkco/shopclerk/internal/event"
)

const telegramHistoryCap = 500

// TelegramBot is the slice of the bot API the driver needs (allows mocking
// in tests).
type TelegramBot interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	return w.bot.GetUpdates(config)
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// Telegram adapts the Telegram Bot API to the Driver contract.
//
// The Bot API exposes no backfill, so FetchHistory serves a bounded per-chat
// ring of events this driver has itself observed (inbound updates and its
// own sends). That still satisfies the contract: a closed, driver-ordered
// set.
type Telegram struct {
	cfg        config.TelegramConfig
	botFactory BotFactory
	bot        TelegramBot
	offset     int
	allow      map[string]bool

	mu      sync.Mutex
	history map[string][]event.RawEvent
}

func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	return NewTelegramWithFactory(cfg, defaultBotFactory)
}

// NewTelegramWithFactory creates a Telegram driver with a custom bot factory
// (for testing).
func NewTelegramWithFactory(cfg config.TelegramConfig, factory BotFactory) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if factory == nil {
		factory = defaultBotFactory
	}

	var allow map[string]bool
	if len(cfg.AllowFrom) > 0 {
		allow = make(map[string]bool, len(cfg.AllowFrom))
		for _, id := range cfg.AllowFrom {
			allow[strings.TrimSpace(id)] = true
		}
	}

	return &Telegram{
		cfg:        cfg,
		botFactory: factory,
		allow:      allow,
		history:    make(map[string][]event.RawEvent),
	}, nil
}

func (t *Telegram) Open(ctx context.Context) error {
	client := http.DefaultClient
	if t.cfg.Proxy != "" {
		proxyURL, err := url.Parse(t.cfg.Proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := t.botFactory(t.cfg.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (t *Telegram) FetchNewRawEvents(ctx context.Context) ([]event.RawEvent, error) {
	if t.bot == nil {
		return nil, NewError("fetch", fmt.Errorf("telegram bot not opened"))
	}

	updates, err := t.bot.GetUpdates(tgbotapi.UpdateConfig{Offset: t.offset, Timeout: 0})
	if err != nil {
		return nil, NewError("fetch", err)
	}

	raws := make([]event.RawEvent, 0, len(updates))
	for _, update := range updates {
		if update.UpdateID >= t.offset {
			t.offset = update.UpdateID + 1
		}
		msg := update.Message
		if msg == nil || msg.Chat == nil {
			continue
		}

		raw := rawFromTelegramMessage(msg)
		if t.allow != nil && !t.allow[raw.ContactRef] {
			log.Printf("[telegram] rejected message from %s", raw.ContactRef)
			continue
		}

		t.record(raw)
		raws = append(raws, raw)
	}
	return raws, nil
}

func rawFromTelegramMessage(msg *tgbotapi.Message) event.RawEvent {
	contactRef := strconv.FormatInt(msg.Chat.ID, 10)

	name := msg.Chat.Title
	if msg.From != nil {
		if msg.From.UserName != "" {
			name = msg.From.UserName
		} else {
			name = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		}
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	return event.RawEvent{
		ID:          fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID),
		ContactRef:  contactRef,
		ContactName: name,
		Text:        text,
		Timestamp:   msg.Time(),
		Outbound:    msg.From != nil && msg.From.IsBot,
		HasImage:    len(msg.Photo) > 0 || msg.Sticker != nil,
		System:      len(msg.NewChatMembers) > 0 || msg.LeftChatMember != nil || msg.PinnedMessage != nil,
	}
}

func (t *Telegram) FetchHistory(ctx context.Context, contactRef string, limit int) ([]event.RawEvent, error) {
	if t.bot == nil {
		return nil, NewError("history", fmt.Errorf("telegram bot not opened"))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ring := t.history[contactRef]
	if len(ring) > limit {
		ring = ring[len(ring)-limit:]
	}
	out := make([]event.RawEvent, len(ring))
	copy(out, ring)
	return out, nil
}

func (t *Telegram) SendText(ctx context.Context, contactRef, text string) error {
	if t.bot == nil {
		return NewError("send", fmt.Errorf("telegram bot not opened"))
	}

	chatID, err := strconv.ParseInt(contactRef, 10, 64)
	if err != nil {
		return NewError("send", fmt.Errorf("invalid telegram chat id %q: %w", contactRef, err))
	}

	sent, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return NewError("send", err)
	}

	t.record(event.RawEvent{
		ID:          fmt.Sprintf("%d:%d", chatID, sent.MessageID),
		ContactRef:  contactRef,
		ContactName: t.bot.GetSelf().UserName,
		Text:        text,
		Timestamp:   time.Now(),
		Outbound:    true,
	})
	return nil
}

func (t *Telegram) Close() error {
	log.Printf("[telegram] closed")
	return nil
}

func (t *Telegram) record(raw event.RawEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ring := append(t.history[raw.ContactRef], raw)
	if len(ring) > telegramHistoryCap {
		ring = ring[len(ring)-telegramHistoryCap:]
	}
	t.history[raw.ContactRef] = ring
}
