package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/db"

	"github.com/gin-gonic/gin"
)

// signalView is the JSON shape SDK clients consume.
type signalView struct {
	SignalID   string   `json:"signal_id"`
	Symbol     string   `json:"symbol"`
	SignalType string   `json:"signal_type"`
	OrderType  string   `json:"order_type"`
	EntryPrice *float64 `json:"entry_price"`
	StopLoss   *float64 `json:"stop_loss"`
	TakeProfit *float64 `json:"take_profit"`
	Leverage   int      `json:"leverage"`
	Status     string   `json:"status"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

func toSignalView(s db.Signal) signalView {
	return signalView{
		SignalID:   s.SignalID,
		Symbol:     s.Symbol,
		SignalType: s.SignalType,
		OrderType:  s.OrderType,
		EntryPrice: s.EntryPrice,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
		Leverage:   s.Leverage,
		Status:     s.Status,
		CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// root reports service identity and aggregate stats.
func (s *Server) root(c *gin.Context) {
	stats, err := s.DB.GetStats(c.Request.Context())
	if err != nil {
		log.Printf("[API] ❌ Stats query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"service": s.Meta.Name,
		"version": s.Meta.Version,
		"status":  "running",
		"stats": gin.H{
			"total_signals":     stats.TotalSignals,
			"active_signals":    stats.ActiveSignals,
			"connected_clients": s.Hub.Count(),
			"active_clients":    stats.ActiveClients,
			"deliveries_24h":    stats.Deliveries24h,
		},
	})
}

type registerRequest struct {
	ClientID   string `json:"client_id" binding:"required"`
	TelegramID int64  `json:"telegram_id"`
}

// registerClient records an SDK client and issues its access token.
func (s *Server) registerClient(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id is required"})
		return
	}

	if err := s.DB.RegisterClient(c.Request.Context(), req.ClientID, req.TelegramID); err != nil {
		log.Printf("[API] ❌ Client registration failed for %s: %v", req.ClientID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	token, err := generateToken(s.JWTSecret, req.ClientID, req.TelegramID)
	if err != nil {
		log.Printf("[API] ❌ Token generation failed for %s: %v", req.ClientID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}

	log.Printf("[API] ✅ SDK client registered: %s", req.ClientID)
	c.JSON(http.StatusOK, gin.H{
		"status":    "registered",
		"client_id": req.ClientID,
		"token":     token,
	})
}

type heartbeatRequest struct {
	ClientID string `json:"client_id" binding:"required"`
}

// heartbeat refreshes an SDK client's liveness timestamp.
func (s *Server) heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id is required"})
		return
	}

	if err := s.DB.UpdateClientHeartbeat(c.Request.Context(), req.ClientID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown client"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "heartbeat failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getSignals lists signals. active_only=true (default) restricts to
// signals still marked ACTIVE; limit caps history responses.
func (s *Server) getSignals(c *gin.Context) {
	activeOnly := c.DefaultQuery("active_only", "true") == "true"
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	var rows []db.Signal
	if activeOnly {
		rows, err = s.DB.GetActiveSignals(c.Request.Context())
	} else {
		rows, err = s.DB.GetAllSignals(c.Request.Context(), limit)
	}
	if err != nil {
		log.Printf("[API] ❌ Signal query failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signal query failed"})
		return
	}

	views := make([]signalView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toSignalView(row))
	}
	c.JSON(http.StatusOK, gin.H{
		"signals": views,
		"count":   len(views),
	})
}

// getSignal returns one signal by ID.
func (s *Server) getSignal(c *gin.Context) {
	signalID := c.Param("id")

	sig, err := s.DB.GetSignal(c.Request.Context(), signalID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signal query failed"})
		return
	}
	if sig == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		return
	}

	c.JSON(http.StatusOK, toSignalView(*sig))
}

type ackRequest struct {
	ClientID string `json:"client_id" binding:"required"`
}

// acknowledgeSignal marks a delivered signal as processed by a client.
func (s *Server) acknowledgeSignal(c *gin.Context) {
	signalID := c.Param("id")

	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id is required"})
		return
	}

	// Token-authenticated clients can only acknowledge their own
	// deliveries. Shared-secret callers carry no identity claim.
	if claimed := c.GetString("ClientID"); claimed != "" && claimed != req.ClientID {
		c.JSON(http.StatusForbidden, gin.H{"error": "client_id does not match token"})
		return
	}

	if err := s.DB.AcknowledgeDelivery(c.Request.Context(), signalID, req.ClientID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no delivery recorded for this client"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "acknowledge failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

// getStats surfaces delivery and subscriber aggregates for dashboards.
func (s *Server) getStats(c *gin.Context) {
	stats, err := s.DB.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_signals":      stats.TotalSignals,
		"active_signals":     stats.ActiveSignals,
		"total_clients":      stats.TotalClients,
		"active_clients":     stats.ActiveClients,
		"connected_clients":  s.Hub.Count(),
		"deliveries_24h":     stats.Deliveries24h,
		"total_subscribers":  stats.TotalSubs,
		"active_subscribers": stats.ActiveSubs,
	})
}
