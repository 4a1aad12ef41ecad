package signal

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Signal ID shape: SIG-DDMMYY-SYMBOL[-SUFFIX], e.g. SIG-030126-BTCUSDT-59797F.
const signalIDPattern = `SIG-\d{6}-[A-Z0-9]+(?:-[A-Z0-9]{6})?`

var (
	// Commands may arrive in the group mention form, e.g. /signal@SomeBot.
	mention = `(?:@\S+)?`

	// Grammar 1: /signal LONG BTCUSDT ...
	signalRe = regexp.MustCompile(`(?i)^/signal` + mention + `\s+(LONG|SHORT)\s+([A-Z0-9]+)`)
	// Grammar 2: /signal BTCUSDT LONG ...
	signalAltRe = regexp.MustCompile(`(?i)^/signal` + mention + `\s+([A-Z0-9]+)\s+(LONG|SHORT)`)
	// Grammar 3: bare two-line form, no command token.
	multilineRe = regexp.MustCompile(`(?im)^([A-Z0-9]{2,15})\s*\n\s*(LONG|SHORT)`)

	closeRe    = regexp.MustCompile(`(?i)^/close` + mention + `\s+(` + signalIDPattern + `)(?:\s+(\d+(?:\.\d+)?)%?)?`)
	leverageRe = regexp.MustCompile(`(?i)^/leverage` + mention + `\s+(` + signalIDPattern + `)\s+(\d+)x?`)
	editSLTPRe = regexp.MustCompile(`(?i)/editsltp` + mention + `\s+(` + signalIDPattern + `)`)

	// Labelled parameters; order-independent within the message text.
	paramRes = map[string]*regexp.Regexp{
		"entry": regexp.MustCompile(`(?i)entry[=:\s]+([\d.]+)`),
		"sl":    regexp.MustCompile(`(?i)sl[=:\s]+([\d.]+)`),
		"tp":    regexp.MustCompile(`(?i)tp[=:\s]+([\d.]+)`),
		"lev":   regexp.MustCompile(`(?i)lev(?:erage)?[=:\s]+(\d+)x?`),
	}
)

// Parse turns an admin message into a command, or nil when the text is not a
// recognized command. Malformed input never produces an error.
func Parse(text string) Command {
	msg := strings.TrimSpace(text)
	lower := strings.ToLower(msg)

	switch {
	case strings.HasPrefix(lower, "/signal"):
		if s := ParseSignal(msg); s != nil {
			return s
		}
		return nil
	case strings.HasPrefix(lower, "/close"):
		if c := ParseClose(msg); c != nil {
			return c
		}
		return nil
	case strings.HasPrefix(lower, "/leverage"):
		if l := ParseLeverage(msg); l != nil {
			return l
		}
		return nil
	case strings.HasPrefix(lower, "/editsltp"):
		if e := ParseEditSLTP(msg); e != nil {
			return e
		}
		return nil
	}

	// No command token: try the bare multi-line grammar.
	if s := ParseSignal(msg); s != nil {
		return s
	}
	return nil
}

// ParseSignal parses a new-signal message in any of the three grammars.
func ParseSignal(text string) *Signal {
	msg := strings.TrimSpace(text)

	var symbol, direction string
	if m := signalRe.FindStringSubmatch(msg); m != nil {
		direction, symbol = m[1], m[2]
	} else if m := signalAltRe.FindStringSubmatch(msg); m != nil {
		symbol, direction = m[1], m[2]
	} else if m := multilineRe.FindStringSubmatch(msg); m != nil {
		symbol, direction = m[1], m[2]
	} else {
		return nil
	}
	symbol = strings.ToUpper(symbol)

	dir := DirectionLong
	if strings.EqualFold(direction, string(DirectionShort)) {
		dir = DirectionShort
	}

	entry := extractParam(msg, "entry")
	stopLoss := extractParam(msg, "sl")
	takeProfit := extractParam(msg, "tp")

	// Market order unless a numeric entry is given; an explicit entry always
	// wins over a literal "market" keyword.
	orderType := OrderTypeMarket
	if entry != nil {
		orderType = OrderTypeLimit
	}

	leverage := 1
	if lev := extractParam(msg, "lev"); lev != nil {
		leverage = int(*lev)
	}

	now := time.Now().UTC()
	return &Signal{
		SignalID:   GenerateSignalID(symbol, now),
		Symbol:     symbol,
		Direction:  dir,
		OrderType:  orderType,
		EntryPrice: entry,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Leverage:   leverage,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ParseClose parses a /close command with an optional trailing percentage.
func ParseClose(text string) *Close {
	m := closeRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return nil
	}
	signalID := strings.ToUpper(m[1])
	symbol := SymbolFromID(signalID)
	if symbol == "" {
		return nil
	}

	percentage := 100.0
	if m[2] != "" {
		if p, err := strconv.ParseFloat(m[2], 64); err == nil {
			percentage = p
		}
	}
	return &Close{SignalID: signalID, Symbol: symbol, Percentage: percentage}
}

// ParseLeverage parses a /leverage command.
func ParseLeverage(text string) *Leverage {
	m := leverageRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return nil
	}
	signalID := strings.ToUpper(m[1])
	symbol := SymbolFromID(signalID)
	if symbol == "" {
		return nil
	}
	lev, err := strconv.Atoi(m[2])
	if err != nil {
		return nil
	}
	return &Leverage{SignalID: signalID, Symbol: symbol, Leverage: lev}
}

// ParseEditSLTP parses an /editsltp command. At least one of sl/tp must be
// present in the message or the parse fails.
func ParseEditSLTP(text string) *EditSLTP {
	msg := strings.TrimSpace(text)
	m := editSLTPRe.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}
	signalID := strings.ToUpper(m[1])
	symbol := SymbolFromID(signalID)
	if symbol == "" {
		return nil
	}

	stopLoss := extractParam(msg, "sl")
	takeProfit := extractParam(msg, "tp")
	if stopLoss == nil && takeProfit == nil {
		return nil
	}
	return &EditSLTP{SignalID: signalID, Symbol: symbol, StopLoss: stopLoss, TakeProfit: takeProfit}
}

// GenerateSignalID builds SIG-DDMMYY-SYMBOL-XXXXXX with a random hex suffix.
// Suffixes are not deduplicated against existing IDs; the collision odds are
// negligible for this use.
func GenerateSignalID(symbol string, at time.Time) string {
	date := at.Format("020106")
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return "SIG-" + date + "-" + strings.ToUpper(symbol) + "-" + suffix
}

// SymbolFromID extracts the symbol as the third dash-separated segment of a
// signal ID. This is a parsing shortcut, not a database lookup. Returns ""
// when the ID has fewer than three segments.
func SymbolFromID(signalID string) string {
	parts := strings.Split(signalID, "-")
	if len(parts) < 3 {
		return ""
	}
	return strings.ToUpper(parts[2])
}

func extractParam(text, name string) *float64 {
	re, ok := paramRes[name]
	if !ok {
		return nil
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}
