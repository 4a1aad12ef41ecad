// Package bot is the Telegram transport: admin signal commands in,
// subscriber registration and trade notifications out.
package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DecentralizedJM/TIA-Service-Broadcaster/internal/broadcast"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/internal/events"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/internal/signal"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/config"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/crypto"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/db"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/exchange"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const validateTimeout = 15 * time.Second

// sender is the slice of the Telegram API the handlers need. Tests plug
// in a recording fake.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot routes Telegram updates to the broadcast engine and the store.
type Bot struct {
	api     sender
	client  *tgbotapi.BotAPI
	cfg     *config.Config
	db      *db.Database
	vault   *crypto.Vault
	engine  *broadcast.Engine
	factory exchange.Factory
	bus     *events.Bus

	// credential validation deadline, shortened in tests
	validateTimeout time.Duration

	mu       sync.Mutex
	sessions map[int64]*regSession
}

// New connects to the Telegram API and builds the bot.
func New(cfg *config.Config, database *db.Database, vault *crypto.Vault, engine *broadcast.Engine, factory exchange.Factory, bus *events.Bus) (*Bot, error) {
	client, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	log.Printf("[BOT] ✅ Authorized as @%s", client.Self.UserName)

	b := newWithAPI(client, cfg, database, vault, engine, factory, bus)
	b.client = client
	return b, nil
}

// newWithAPI wires everything except the network connection.
func newWithAPI(api sender, cfg *config.Config, database *db.Database, vault *crypto.Vault, engine *broadcast.Engine, factory exchange.Factory, bus *events.Bus) *Bot {
	return &Bot{
		api:             api,
		cfg:             cfg,
		db:              database,
		vault:           vault,
		engine:          engine,
		factory:         factory,
		bus:             bus,
		validateTimeout: validateTimeout,
		sessions:        make(map[int64]*regSession),
	}
}

// Run polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.client.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.client.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	// Channel posts: only the configured signal channel is trusted.
	if post := update.ChannelPost; post != nil && post.Text != "" {
		if b.cfg.SignalChannelID != 0 && post.Chat.ID == b.cfg.SignalChannelID {
			b.handleSignalText(ctx, post.Text)
		}
		return
	}

	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	// Plain text: a registration step, or an admin DM signal.
	if b.inSession(msg.Chat.ID) {
		b.sessionStep(ctx, msg)
		return
	}
	if b.cfg.IsAdmin(msg.From.ID) && msg.Chat.IsPrivate() {
		if cmd := signal.Parse(msg.Text); cmd != nil {
			if sig, ok := cmd.(*signal.Signal); ok {
				b.reply(msg.Chat.ID, "📡 Signal detected!\n\n"+formatSignalSummary(sig)+"\n\nBroadcasting to all AUTO subscribers...")
			}
			b.dispatchSignal(ctx, cmd)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		b.startCommand(ctx, msg)
	case "help":
		b.reply(chatID, helpText)
	case "status":
		b.statusCommand(ctx, msg)
	case "register":
		b.registerStart(ctx, msg)
	case "skip":
		b.registrationSkip(ctx, msg)
	case "cancel":
		b.registrationCancel(msg)
	case "setamount":
		b.setAmountCommand(ctx, msg)
	case "setleverage":
		b.setLeverageCommand(ctx, msg)
	case "setmode":
		b.setModeCommand(ctx, msg)
	case "unregister":
		b.unregisterCommand(ctx, msg)
	case "stats":
		b.adminStatsCommand(ctx, msg)
	case "broadcast":
		b.adminBroadcastCommand(ctx, msg)
	case "signal", "close", "leverage", "editsltp":
		// Signal grammar shares the command namespace.
		if b.cfg.IsAdmin(msg.From.ID) {
			if cmd := signal.Parse(msg.Text); cmd != nil {
				if sig, ok := cmd.(*signal.Signal); ok {
					b.reply(chatID, "📡 Signal detected!\n\n"+formatSignalSummary(sig)+"\n\nBroadcasting to all AUTO subscribers...")
				}
				b.dispatchSignal(ctx, cmd)
			} else {
				b.reply(chatID, "❌ Could not parse that signal. Check the format and try again.")
			}
		}
	}
}

// ==================== User commands ====================

func (b *Bot) startCommand(ctx context.Context, msg *tgbotapi.Message) {
	sub, err := b.db.GetSubscriber(ctx, msg.From.ID)
	if err != nil {
		log.Printf("[BOT] ❌ Subscriber lookup failed: %v", err)
		return
	}

	if sub != nil && sub.IsActive {
		b.reply(msg.Chat.ID, fmt.Sprintf(
			"👋 Welcome back, %s!\n\n"+
				"You're already registered.\n\n"+
				"Your Settings:\n"+
				"💰 Trade Amount: %v USDT\n"+
				"⚡ Max Leverage: %dx\n"+
				"📊 Total Trades: %d\n\n"+
				"Commands:\n"+
				"/status - View your settings\n"+
				"/setamount - Change trade amount\n"+
				"/setleverage - Change max leverage\n"+
				"/unregister - Stop receiving signals",
			msg.From.FirstName, sub.TradeAmountUSDT, sub.MaxLeverage, sub.TotalTrades))
		return
	}

	b.reply(msg.Chat.ID, fmt.Sprintf(
		"🤖 TradeIdeas Broadcaster\n\n"+
			"Welcome, %s!\n\n"+
			"I auto-execute trading signals on your brokerage account.\n\n"+
			"To get started:\n"+
			"/register - Connect your account\n\n"+
			"You'll need:\n"+
			"• API Key\n"+
			"• API Secret\n\n"+
			"🔒 Your API keys are encrypted and stored securely.",
		msg.From.FirstName))
}

func (b *Bot) statusCommand(ctx context.Context, msg *tgbotapi.Message) {
	sub, err := b.db.GetSubscriber(ctx, msg.From.ID)
	if err != nil {
		log.Printf("[BOT] ❌ Subscriber lookup failed: %v", err)
		return
	}
	if sub == nil || !sub.IsActive {
		b.reply(msg.Chat.ID, "❌ You're not registered.\n\nUse /register to get started.")
		return
	}
	b.reply(msg.Chat.ID, formatStatus(sub))
}

func (b *Bot) setAmountCommand(ctx context.Context, msg *tgbotapi.Message) {
	sub := b.requireSubscriber(ctx, msg)
	if sub == nil {
		return
	}

	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		b.reply(msg.Chat.ID, fmt.Sprintf(
			"💰 Current trade amount: %v USDT\n\nUsage: /setamount <amount>\nExample: /setamount 100",
			sub.TradeAmountUSDT))
		return
	}

	amount, err := strconv.ParseFloat(args, 64)
	if err != nil || amount < 1 || amount > 10000 {
		b.reply(msg.Chat.ID, "❌ Please enter a valid amount between 1 and 10000")
		return
	}

	if err := b.db.UpdateTradeAmount(ctx, msg.From.ID, amount); err != nil {
		log.Printf("[BOT] ❌ Trade amount update failed: %v", err)
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("✅ Trade amount updated to %v USDT", amount))
}

func (b *Bot) setLeverageCommand(ctx context.Context, msg *tgbotapi.Message) {
	sub := b.requireSubscriber(ctx, msg)
	if sub == nil {
		return
	}

	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		b.reply(msg.Chat.ID, fmt.Sprintf(
			"⚡ Current max leverage: %dx\n\nUsage: /setleverage <amount>\nExample: /setleverage 10",
			sub.MaxLeverage))
		return
	}

	leverage, err := strconv.Atoi(strings.TrimSuffix(args, "x"))
	if err != nil || leverage < 1 || leverage > 125 {
		b.reply(msg.Chat.ID, "❌ Please enter a valid leverage between 1 and 125")
		return
	}

	if err := b.db.UpdateMaxLeverage(ctx, msg.From.ID, leverage); err != nil {
		log.Printf("[BOT] ❌ Leverage update failed: %v", err)
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("✅ Max leverage updated to %dx", leverage))
}

func (b *Bot) setModeCommand(ctx context.Context, msg *tgbotapi.Message) {
	sub := b.requireSubscriber(ctx, msg)
	if sub == nil {
		return
	}

	args := strings.ToLower(strings.TrimSpace(msg.CommandArguments()))
	if args == "" {
		modeEmoji := "🤖"
		if sub.TradeMode == "manual" {
			modeEmoji = "👆"
		}
		b.reply(msg.Chat.ID, fmt.Sprintf(
			"%s Current trade mode: %s\n\n"+
				"Available modes:\n"+
				"🤖 auto - Trades execute automatically\n"+
				"👆 manual - You execute trades yourself\n\n"+
				"Usage: /setmode auto or /setmode manual",
			modeEmoji, strings.ToUpper(sub.TradeMode)))
		return
	}

	if args != "auto" && args != "manual" {
		b.reply(msg.Chat.ID, "❌ Invalid mode. Use /setmode auto or /setmode manual")
		return
	}

	if err := b.db.UpdateTradeMode(ctx, msg.From.ID, args); err != nil {
		log.Printf("[BOT] ❌ Mode update failed: %v", err)
		return
	}

	if args == "auto" {
		b.reply(msg.Chat.ID, "🤖 Trade mode set to AUTO\n\nTrades will be executed automatically when signals are published.\n\n⚠️ Make sure you trust the signal source!")
	} else {
		b.reply(msg.Chat.ID, "👆 Trade mode set to MANUAL\n\nYou'll be notified of each signal but nothing will be executed for you.")
	}
}

func (b *Bot) unregisterCommand(ctx context.Context, msg *tgbotapi.Message) {
	err := b.db.DeactivateSubscriber(ctx, msg.From.ID)
	if err != nil {
		b.reply(msg.Chat.ID, "❌ You're not registered.")
		return
	}
	b.reply(msg.Chat.ID, "✅ You've been unregistered.\n\nYou will no longer receive trading signals.\nUse /register to sign up again.")
}

// requireSubscriber replies with a registration hint when the user is
// not an active subscriber.
func (b *Bot) requireSubscriber(ctx context.Context, msg *tgbotapi.Message) *db.Subscriber {
	sub, err := b.db.GetSubscriber(ctx, msg.From.ID)
	if err != nil {
		log.Printf("[BOT] ❌ Subscriber lookup failed: %v", err)
		return nil
	}
	if sub == nil || !sub.IsActive {
		b.reply(msg.Chat.ID, "❌ You're not registered. Use /register first.")
		return nil
	}
	return sub
}

// ==================== Admin commands ====================

func (b *Bot) adminStatsCommand(ctx context.Context, msg *tgbotapi.Message) {
	if !b.cfg.IsAdmin(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ Admin only command.")
		return
	}

	stats, err := b.db.GetSubscriberStats(ctx)
	if err != nil {
		log.Printf("[BOT] ❌ Stats query failed: %v", err)
		return
	}
	b.reply(msg.Chat.ID, formatSubscriberStats(stats))
}

func (b *Bot) adminBroadcastCommand(ctx context.Context, msg *tgbotapi.Message) {
	if !b.cfg.IsAdmin(msg.From.ID) {
		b.reply(msg.Chat.ID, "❌ Admin only command.")
		return
	}

	text := strings.TrimSpace(msg.CommandArguments())
	if text == "" {
		b.reply(msg.Chat.ID, "📢 Broadcast Message\n\nUsage: /broadcast <message>\n\nThis will send a message to all active subscribers.")
		return
	}

	subs, err := b.db.GetActiveSubscribers(ctx)
	if err != nil {
		log.Printf("[BOT] ❌ Subscriber query failed: %v", err)
		return
	}

	sent, failed := 0, 0
	for _, sub := range subs {
		if _, err := b.api.Send(tgbotapi.NewMessage(sub.TelegramID, "📢 Announcement\n\n"+text)); err != nil {
			log.Printf("[BOT] ⚠️ Broadcast to %d failed: %v", sub.TelegramID, err)
			failed++
			continue
		}
		sent++
	}

	b.reply(msg.Chat.ID, fmt.Sprintf("📢 Broadcast complete!\n\n✅ Sent: %d\n❌ Failed: %d", sent, failed))
}

// ==================== Signal handling ====================

func (b *Bot) handleSignalText(ctx context.Context, text string) {
	cmd := signal.Parse(text)
	if cmd == nil {
		return
	}
	log.Printf("[BOT] 📡 Signal received: %s", cmd.CommandSignalID())
	b.dispatchSignal(ctx, cmd)
}

// dispatchSignal fans a parsed command out through the engine, then
// notifies the admins, each affected subscriber and the SDK push channel.
func (b *Bot) dispatchSignal(ctx context.Context, cmd signal.Command) {
	var summary *broadcast.Summary
	var direction, action string

	switch c := cmd.(type) {
	case *signal.Signal:
		summary = b.engine.BroadcastSignal(ctx, c)
		direction = string(c.Direction)
		b.bus.Publish(events.EventSignalNew, events.SignalNew{
			SignalID:   c.SignalID,
			Symbol:     c.Symbol,
			SignalType: string(c.Direction),
			OrderType:  string(c.OrderType),
			EntryPrice: c.EntryPrice,
			StopLoss:   c.StopLoss,
			TakeProfit: c.TakeProfit,
			Leverage:   c.Leverage,
		})
	case *signal.Close:
		summary = b.engine.BroadcastClose(ctx, c)
		action = "Close"
		b.bus.Publish(events.EventSignalClose, events.SignalClose{
			SignalID:   c.SignalID,
			Symbol:     c.Symbol,
			Percentage: c.Percentage,
		})
	case *signal.Leverage:
		summary = b.engine.BroadcastLeverage(ctx, c)
		action = "Leverage update"
		b.bus.Publish(events.EventSignalLeverage, events.SignalLeverage{
			SignalID: c.SignalID,
			Symbol:   c.Symbol,
			Leverage: c.Leverage,
		})
	case *signal.EditSLTP:
		summary = b.engine.BroadcastSLTP(ctx, c)
		action = "SL/TP update"
		b.bus.Publish(events.EventSignalSLTP, events.SignalSLTP{
			SignalID:   c.SignalID,
			Symbol:     c.Symbol,
			StopLoss:   c.StopLoss,
			TakeProfit: c.TakeProfit,
		})
	default:
		return
	}

	b.bus.Publish(events.EventBroadcastDone, events.BroadcastDone{
		SignalID:  summary.SignalID,
		Total:     summary.Total,
		Succeeded: summary.Successes(),
	})

	b.notifyAdmins(summary.Format())

	for _, r := range summary.Results {
		var note string
		if direction != "" {
			note = formatTradeNotification(summary.SignalID, direction, cmd.CommandSymbol(), r)
		} else {
			note = formatUpdateNotification(action, summary.SignalID, r)
		}
		if _, err := b.api.Send(tgbotapi.NewMessage(r.TelegramID, note)); err != nil {
			log.Printf("[BOT] ⚠️ Notify %d failed: %v", r.TelegramID, err)
		}
	}
}

func (b *Bot) notifyAdmins(text string) {
	for _, id := range b.cfg.AdminIDs {
		if _, err := b.api.Send(tgbotapi.NewMessage(id, text)); err != nil {
			log.Printf("[BOT] ⚠️ Admin notify %d failed: %v", id, err)
		}
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Printf("[BOT] ⚠️ Send to %d failed: %v", chatID, err)
	}
}
