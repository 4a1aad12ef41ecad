package broadcast

import (
	"errors"
	"strings"

	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/exchange"
)

// TradeStatus is the closed outcome taxonomy for one subscriber attempt.
type TradeStatus string

const (
	StatusSuccess             TradeStatus = "SUCCESS"
	StatusSuccessReduced      TradeStatus = "SUCCESS_REDUCED"
	StatusInsufficientBalance TradeStatus = "INSUFFICIENT_BALANCE"
	StatusMinOrderNotMet      TradeStatus = "MIN_ORDER_NOT_MET"
	StatusSymbolNotFound      TradeStatus = "SYMBOL_NOT_FOUND"
	StatusInvalidKey          TradeStatus = "INVALID_KEY"
	StatusAPIError            TradeStatus = "API_ERROR"
	StatusSkipped             TradeStatus = "SKIPPED"
	StatusPositionExists      TradeStatus = "POSITION_EXISTS"
)

// Result is the outcome of one signal action for one subscriber.
type Result struct {
	TelegramID    int64
	Username      string
	Status        TradeStatus
	Message       string
	OrderID       string
	Quantity      float64
	EntryPrice    float64
	RealizedValue float64
	Balance       float64
}

// Succeeded reports whether the attempt placed or adjusted an order.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess || r.Status == StatusSuccessReduced
}

// maxUserMessage caps sanitized error text shown to users.
const maxUserMessage = 150

var balanceKeywords = []string{"balance", "insufficient", "margin"}

var authKeywords = []string{"auth", "unauthorized", "forbidden", "signature", "api key", "api-key", "apikey"}

var symbolKeywords = []string{"symbol", "pair", "not found", "unknown asset", "invalid instrument"}

// ClassifyError maps a brokerage failure onto the outcome taxonomy.
// Classification over free-text messages is best effort: keyword order
// matters, and anything unrecognized falls through to API_ERROR.
func ClassifyError(err error) TradeStatus {
	if err == nil {
		return StatusSuccess
	}

	msg := strings.ToLower(err.Error())
	var statusCode int
	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) {
		statusCode = apiErr.StatusCode
	}

	for _, kw := range balanceKeywords {
		if strings.Contains(msg, kw) {
			return StatusInsufficientBalance
		}
	}
	if statusCode == 401 || statusCode == 403 {
		return StatusInvalidKey
	}
	for _, kw := range authKeywords {
		if strings.Contains(msg, kw) {
			return StatusInvalidKey
		}
	}
	if statusCode == 404 {
		return StatusSymbolNotFound
	}
	for _, kw := range symbolKeywords {
		if strings.Contains(msg, kw) {
			return StatusSymbolNotFound
		}
	}
	return StatusAPIError
}

// SanitizeMessage strips formatting-sensitive characters and truncates
// free-text error messages before they reach users.
func SanitizeMessage(msg string) string {
	replacer := strings.NewReplacer(
		"*", "", "_", "", "`", "", "[", "", "]", "", "\n", " ", "\r", " ",
	)
	msg = replacer.Replace(msg)
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > maxUserMessage {
		msg = msg[:maxUserMessage] + "..."
	}
	return msg
}

func errorResult(sub subscriberInfo, err error) Result {
	return Result{
		TelegramID: sub.id,
		Username:   sub.username,
		Status:     ClassifyError(err),
		Message:    SanitizeMessage(err.Error()),
	}
}

// subscriberInfo is the identity slice of a subscriber carried into results.
type subscriberInfo struct {
	id       int64
	username string
}
