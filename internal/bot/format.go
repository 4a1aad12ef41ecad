package bot

import (
	"fmt"
	"strings"

	"github.com/DecentralizedJM/TIA-Service-Broadcaster/internal/broadcast"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/internal/signal"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/db"
)

const divider = "━━━━━━━━━━━━━━━━━━━━"

func formatFloatPtr(v *float64) string {
	if v == nil {
		return "None"
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", *v), "0"), ".")
}

// formatSignalSummary renders a parsed signal for the admin confirmation.
func formatSignalSummary(s *signal.Signal) string {
	orderStr := "MARKET"
	if s.OrderType == signal.OrderTypeLimit {
		orderStr = "LIMIT @ " + formatFloatPtr(s.EntryPrice)
	}

	var b strings.Builder
	b.WriteString("📊 Signal Broadcast\n")
	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, "🆔 ID: %s\n", s.SignalID)
	fmt.Fprintf(&b, "📈 %s %s\n", s.Direction, s.Symbol)
	fmt.Fprintf(&b, "📋 Order: %s\n", orderStr)
	fmt.Fprintf(&b, "🛑 Stop Loss: %s\n", formatFloatPtr(s.StopLoss))
	fmt.Fprintf(&b, "🎯 Take Profit: %s\n", formatFloatPtr(s.TakeProfit))
	fmt.Fprintf(&b, "⚡ Leverage: %dx\n", s.Leverage)
	b.WriteString(divider)
	return b.String()
}

// formatTradeNotification renders one subscriber's execution outcome.
func formatTradeNotification(signalID, direction, symbol string, r broadcast.Result) string {
	var b strings.Builder

	switch r.Status {
	case broadcast.StatusSuccess, broadcast.StatusSuccessReduced:
		b.WriteString("✅ Trade Executed\n")
		b.WriteString(divider + "\n")
		fmt.Fprintf(&b, "🆔 Signal: %s\n", signalID)
		fmt.Fprintf(&b, "📊 %s %s\n", direction, symbol)
		if r.Quantity > 0 {
			fmt.Fprintf(&b, "📦 Quantity: %v\n", r.Quantity)
		}
		if r.Status == broadcast.StatusSuccessReduced {
			b.WriteString("⚠️ Position size was reduced to fit your balance.\n")
		}
		b.WriteString(divider)

	case broadcast.StatusInsufficientBalance:
		b.WriteString("💰 Trade Skipped - Insufficient Balance\n")
		b.WriteString(divider + "\n")
		fmt.Fprintf(&b, "🆔 Signal: %s\n", signalID)
		fmt.Fprintf(&b, "📊 %s %s\n\n", direction, symbol)
		b.WriteString(r.Message + "\n\n")
		b.WriteString("Top up your wallet to receive future signals.\n")
		b.WriteString(divider)

	case broadcast.StatusSkipped:
		b.WriteString("👆 Signal Received (Manual Mode)\n")
		b.WriteString(divider + "\n")
		fmt.Fprintf(&b, "🆔 Signal: %s\n", signalID)
		fmt.Fprintf(&b, "📊 %s %s\n\n", direction, symbol)
		b.WriteString("You're in manual mode, so nothing was executed.\n")
		b.WriteString("Place the trade yourself or /setmode auto.\n")
		b.WriteString(divider)

	default:
		b.WriteString("❌ Trade Failed\n")
		b.WriteString(divider + "\n")
		fmt.Fprintf(&b, "🆔 Signal: %s\n", signalID)
		fmt.Fprintf(&b, "📊 %s %s\n\n", direction, symbol)
		fmt.Fprintf(&b, "Error: %s\n", r.Message)
		b.WriteString(divider)
	}

	return b.String()
}

// formatUpdateNotification covers close, leverage and SLTP outcomes.
func formatUpdateNotification(action, signalID string, r broadcast.Result) string {
	var b strings.Builder
	if r.Succeeded() {
		fmt.Fprintf(&b, "✅ %s applied\n", action)
	} else if r.Status == broadcast.StatusSkipped {
		fmt.Fprintf(&b, "⏭ %s skipped\n", action)
	} else {
		fmt.Fprintf(&b, "❌ %s failed\n", action)
	}
	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, "🆔 Signal: %s\n", signalID)
	if r.Message != "" && !r.Succeeded() {
		fmt.Fprintf(&b, "\n%s\n", r.Message)
	}
	b.WriteString(divider)
	return b.String()
}

func formatStatus(sub *db.Subscriber) string {
	var b strings.Builder
	b.WriteString("📊 Your Status\n")
	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, "💰 Trade Amount: %v USDT\n", sub.TradeAmountUSDT)
	fmt.Fprintf(&b, "⚡ Max Leverage: %dx\n", sub.MaxLeverage)
	fmt.Fprintf(&b, "🤖 Mode: %s\n", strings.ToUpper(sub.TradeMode))
	fmt.Fprintf(&b, "📈 Total Trades: %d\n", sub.TotalTrades)
	fmt.Fprintf(&b, "💵 Total PnL: $%.2f\n", sub.TotalPnL)
	b.WriteString(divider + "\n")
	b.WriteString("✅ Status: Active")
	return b.String()
}

func formatSubscriberStats(stats *db.SubscriberStats) string {
	var b strings.Builder
	b.WriteString("📊 Bot Statistics\n")
	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, "👥 Total Subscribers: %d\n", stats.Total)
	fmt.Fprintf(&b, "✅ Active: %d\n", stats.Active)
	fmt.Fprintf(&b, "🤖 AUTO Mode: %d\n", stats.Auto)
	fmt.Fprintf(&b, "👆 MANUAL Mode: %d\n", stats.Manual)
	b.WriteString(divider)
	return b.String()
}

const helpText = `🤖 TradeIdeas Broadcaster

User commands:
/start - Welcome and overview
/register - Connect your brokerage account
/status - View your settings
/setamount <usdt> - Change trade amount
/setleverage <n> - Change max leverage
/setmode auto|manual - Toggle auto-execution
/unregister - Stop receiving signals
/cancel - Abort registration

🔒 API keys are encrypted at rest and never shown back.`
