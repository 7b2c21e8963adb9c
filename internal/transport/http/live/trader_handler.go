package livehttp

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"papertrader/internal/engine"
	"papertrader/internal/logger"
	"papertrader/internal/scheduler"

	"github.com/gin-gonic/gin"
)

type traderStatus struct {
	scheduler.Status
	Enabled    bool `json:"enabled"`
	TickActive bool `json:"tickActive"`
}

func (r *Router) status(c *gin.Context) (traderStatus, error) {
	enabled, err := engine.TraderEnabled(c.Request.Context(), r.st)
	if err != nil {
		return traderStatus{}, err
	}
	out := traderStatus{Enabled: enabled, TickActive: r.engine.Running()}
	if r.scheduler != nil {
		out.Status = r.scheduler.Status()
	}
	return out, nil
}

func (r *Router) handleTraderStatus(c *gin.Context) {
	st, err := r.status(c)
	if err != nil {
		r.internalError(c, "trader status", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type controlRequest struct {
	Action string `json:"action"`
}

// handleTraderControl persists the enable flag and starts or stops the timer.
func (r *Router) handleTraderControl(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	ctx := c.Request.Context()
	action := strings.ToLower(strings.TrimSpace(req.Action))
	var message string
	switch action {
	case "start":
		if err := engine.SetTraderEnabled(ctx, r.st, true); err != nil {
			r.internalError(c, "trader start", err)
			return
		}
		if r.scheduler != nil {
			if _, err := r.scheduler.Start(0); err != nil {
				r.internalError(c, "trader start", err)
				return
			}
		}
		message = "Trader started"
	case "stop":
		if err := engine.SetTraderEnabled(ctx, r.st, false); err != nil {
			r.internalError(c, "trader stop", err)
			return
		}
		if r.scheduler != nil {
			r.scheduler.Stop()
		}
		message = "Trader stopped"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be start or stop"})
		return
	}
	logger.Infof("[api] trader %s ip=%s", action, c.ClientIP())
	st, err := r.status(c)
	if err != nil {
		r.internalError(c, "trader status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "status": st})
}

func (r *Router) handleTraderRun(c *gin.Context) {
	logger.Infof("[api] manual tick ip=%s", c.ClientIP())
	c.JSON(http.StatusOK, r.engine.ExecuteTick(c.Request.Context()))
}

// handleCronTrade runs a tick for an external scheduler. With a configured
// secret the caller must send it as a bearer token.
func (r *Router) handleCronTrade(c *gin.Context) {
	if r.cronSecret != "" {
		want := "Bearer " + r.cronSecret
		got := c.GetHeader("Authorization")
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			logger.Warnf("[api] cron trade unauthorized ip=%s", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
	}
	c.JSON(http.StatusOK, r.engine.ExecuteTick(c.Request.Context()))
}
