package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/db"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Registration is a short conversation: API key, API secret, trade
// amount. State lives in memory only; a restart aborts the flow.
type regState int

const (
	awaitingAPIKey regState = iota
	awaitingAPISecret
	awaitingAmount
)

type regSession struct {
	state     regState
	apiKey    string
	apiSecret string
}

func (b *Bot) inSession(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[chatID]
	return ok
}

func (b *Bot) session(chatID int64) *regSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[chatID]
}

func (b *Bot) endSession(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, chatID)
}

func (b *Bot) registerStart(ctx context.Context, msg *tgbotapi.Message) {
	if !b.cfg.AllowRegistration {
		b.reply(msg.Chat.ID, "❌ Registration is currently closed.")
		return
	}

	sub, err := b.db.GetSubscriber(ctx, msg.From.ID)
	if err != nil {
		log.Printf("[BOT] ❌ Subscriber lookup failed: %v", err)
		return
	}
	if sub != nil && sub.IsActive {
		b.reply(msg.Chat.ID, "⚠️ You're already registered!\n\nUse /unregister first if you want to re-register.")
		return
	}

	b.mu.Lock()
	b.sessions[msg.Chat.ID] = &regSession{state: awaitingAPIKey}
	b.mu.Unlock()

	b.reply(msg.Chat.ID,
		"🔑 Registration Step 1/3\n\n"+
			"Please send your API Key.\n\n"+
			"You can get this from your brokerage account:\n"+
			"Settings → API Keys\n\n"+
			"🔒 Your key will be encrypted.\n\n"+
			"/cancel to abort")
}

// sessionStep consumes one plain-text message inside the conversation.
func (b *Bot) sessionStep(ctx context.Context, msg *tgbotapi.Message) {
	s := b.session(msg.Chat.ID)
	if s == nil {
		return
	}

	text := strings.TrimSpace(msg.Text)

	switch s.state {
	case awaitingAPIKey:
		if len(text) < 10 {
			b.reply(msg.Chat.ID, "❌ That doesn't look like a valid API key.\nPlease try again or /cancel")
			return
		}
		s.apiKey = text
		b.deleteMessage(msg)
		b.reply(msg.Chat.ID,
			"✅ API Key received!\n\n"+
				"🔐 Registration Step 2/3\n\n"+
				"Now send your API Secret.\n\n"+
				"🔒 Your secret will be encrypted.\n\n"+
				"/cancel to abort")
		s.state = awaitingAPISecret

	case awaitingAPISecret:
		if len(text) < 10 {
			b.reply(msg.Chat.ID, "❌ That doesn't look like a valid API secret.\nPlease try again or /cancel")
			return
		}
		s.apiSecret = text
		b.deleteMessage(msg)
		b.reply(msg.Chat.ID, fmt.Sprintf(
			"✅ API Secret received!\n\n"+
				"💰 Registration Step 3/3\n\n"+
				"How much USDT do you want to trade per signal?\n\n"+
				"Default: %v USDT\n\n"+
				"Send a number (e.g. 50 or 100) or /skip for default\n\n"+
				"/cancel to abort",
			b.cfg.DefaultTradeAmount))
		s.state = awaitingAmount

	case awaitingAmount:
		amount, err := strconv.ParseFloat(text, 64)
		if err != nil || amount < 1 || amount > 10000 {
			b.reply(msg.Chat.ID, "❌ Please enter a valid amount between 1 and 10000.\nOr use /skip for default.")
			return
		}
		b.completeRegistration(ctx, msg, s, amount)
	}
}

func (b *Bot) registrationSkip(ctx context.Context, msg *tgbotapi.Message) {
	s := b.session(msg.Chat.ID)
	if s == nil || s.state != awaitingAmount {
		return
	}
	b.completeRegistration(ctx, msg, s, b.cfg.DefaultTradeAmount)
}

func (b *Bot) registrationCancel(msg *tgbotapi.Message) {
	if !b.inSession(msg.Chat.ID) {
		return
	}
	b.endSession(msg.Chat.ID)
	b.reply(msg.Chat.ID, "❌ Registration cancelled.")
}

func (b *Bot) completeRegistration(ctx context.Context, msg *tgbotapi.Message, s *regSession, amount float64) {
	defer b.endSession(msg.Chat.ID)

	b.reply(msg.Chat.ID, "🔄 Validating your API credentials...")

	// A live balance call proves the credentials work before they are
	// stored. Bounded so a wedged venue cannot hang the conversation.
	vctx, cancel := context.WithTimeout(ctx, b.validateTimeout)
	defer cancel()

	client := b.factory(s.apiKey, s.apiSecret)
	balance, err := client.GetBalance(vctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			b.reply(msg.Chat.ID,
				"❌ Validation timed out!\n\n"+
					"The API request took too long. Please check:\n"+
					"1. Your API credentials are correct\n"+
					"2. The brokerage API is accessible\n\n"+
					"Try again with /register")
			return
		}
		log.Printf("[BOT] ❌ API validation failed for %d: %v", msg.From.ID, err)
		b.reply(msg.Chat.ID, fmt.Sprintf(
			"❌ API validation failed!\n\nError: %s\n\nPlease check your credentials and try /register again.",
			truncate(err.Error(), 100)))
		return
	}
	log.Printf("[BOT] ✅ API validated for %d: balance %.2f USDT", msg.From.ID, balance)

	keyEnc, err := b.vault.Encrypt(s.apiKey)
	if err != nil {
		log.Printf("[BOT] ❌ Key encryption failed: %v", err)
		b.reply(msg.Chat.ID, "❌ Registration failed. Please try again with /register")
		return
	}
	secretEnc, err := b.vault.Encrypt(s.apiSecret)
	if err != nil {
		log.Printf("[BOT] ❌ Secret encryption failed: %v", err)
		b.reply(msg.Chat.ID, "❌ Registration failed. Please try again with /register")
		return
	}

	sub := db.Subscriber{
		TelegramID:         msg.From.ID,
		Username:           msg.From.UserName,
		APIKeyEncrypted:    keyEnc,
		APISecretEncrypted: secretEnc,
		TradeAmountUSDT:    amount,
		MaxLeverage:        b.cfg.DefaultMaxLeverage,
		TradeMode:          "auto",
		IsActive:           true,
	}
	if err := b.db.UpsertSubscriber(ctx, sub); err != nil {
		log.Printf("[BOT] ❌ Registration failed for %d: %v", msg.From.ID, err)
		b.reply(msg.Chat.ID, "❌ Registration failed. Please try again with /register")
		return
	}

	b.reply(msg.Chat.ID, fmt.Sprintf(
		"🎉 Registration Complete!\n"+
			divider+"\n"+
			"💰 Trade Amount: %v USDT\n"+
			"⚡ Max Leverage: %dx\n"+
			"🤖 Mode: AUTO (trades execute automatically)\n"+
			divider+"\n\n"+
			"⚠️ IMPORTANT WARNING ⚠️\n"+
			"When a trade idea is published, it will be AUTO-EXECUTED in your futures account!\n\n"+
			"📊 Your funds are at risk. Only use amounts you can afford to lose.\n\n"+
			"Commands:\n"+
			"/status - View your settings\n"+
			"/setamount - Change trade amount\n"+
			"/setleverage - Change max leverage\n"+
			"/setmode - Switch between auto/manual mode\n"+
			"/unregister - Stop receiving signals",
		amount, b.cfg.DefaultMaxLeverage))

	log.Printf("[BOT] ✅ New subscriber registered: %d (@%s)", msg.From.ID, msg.From.UserName)
}

// deleteMessage removes a message that contained a credential. Best
// effort: group admins may have revoked the permission.
func (b *Bot) deleteMessage(msg *tgbotapi.Message) {
	del := tgbotapi.NewDeleteMessage(msg.Chat.ID, msg.MessageID)
	if _, err := b.api.Request(del); err != nil {
		log.Printf("[BOT] ⚠️ Could not delete credential message: %v", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
