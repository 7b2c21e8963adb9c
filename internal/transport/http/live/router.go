package livehttp

import (
	"context"
	"errors"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"papertrader/internal/analysis/visual"
	"papertrader/internal/engine"
	"papertrader/internal/ledger"
	"papertrader/internal/logger"
	"papertrader/internal/market"
	"papertrader/internal/scheduler"
	"papertrader/internal/store"
	"papertrader/internal/store/model"
	"papertrader/internal/store/ticklog"

	"github.com/gin-gonic/gin"
)

// TickEngine is the orchestrator as seen by the API.
type TickEngine interface {
	ExecuteTick(ctx context.Context) engine.Result
	Policy() engine.Policy
	Running() bool
}

// SchedulerControl drives the in-process tick timer.
type SchedulerControl interface {
	Start(interval time.Duration) (bool, error)
	Stop() bool
	Status() scheduler.Status
}

// MarketReader supplies the market view and portfolio prices.
type MarketReader interface {
	MarketData(ctx context.Context, ids []string) ([]market.Coin, error)
	Trending(ctx context.Context) ([]market.TrendingCoin, error)
}

type ServerConfig struct {
	Addr       string
	Store      store.Store
	Engine     TickEngine
	Scheduler  SchedulerControl
	Market     MarketReader
	Journal    *ticklog.Store
	CronSecret string
}

// Router holds the /api handlers.
type Router struct {
	st         store.Store
	engine     TickEngine
	scheduler  SchedulerControl
	market     MarketReader
	journal    *ticklog.Store
	cronSecret string
}

func NewRouter(cfg ServerConfig) *Router {
	return &Router{
		st:         cfg.Store,
		engine:     cfg.Engine,
		scheduler:  cfg.Scheduler,
		market:     cfg.Market,
		journal:    cfg.Journal,
		cronSecret: strings.TrimSpace(cfg.CronSecret),
	}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/portfolio", r.handlePortfolio)
	group.GET("/transactions", r.handleTransactions)
	group.GET("/rounds", r.handleRounds)
	group.GET("/rounds/:id/chart", r.handleRoundChart)
	group.GET("/market", r.handleMarket)
	group.GET("/ticks", r.handleTicks)
	group.GET("/trader/status", r.handleTraderStatus)
	group.POST("/trader/status", r.handleTraderControl)
	group.POST("/trader/run", r.handleTraderRun)
	group.GET("/cron/trade", r.handleCronTrade)
}

type snapshotPoint struct {
	TotalValue float64 `json:"totalValue"`
	Cash       float64 `json:"cash"`
	CreatedAt  int64   `json:"createdAt"`
}

type portfolioResponse struct {
	ledger.Valuation
	Status    model.RoundStatus `json:"status"`
	CreatedAt int64             `json:"createdAt"`
	Snapshots []snapshotPoint   `json:"snapshots"`
}

func (r *Router) handlePortfolio(c *gin.Context) {
	ctx := c.Request.Context()
	round, err := r.st.Rounds().Active(ctx)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active round"})
		return
	}
	if err != nil {
		r.internalError(c, "portfolio", err)
		return
	}
	prices := map[string]float64{}
	if r.market != nil {
		ids := engine.WatchedCoins(ctx, r.st)
		if holdings, herr := r.st.Holdings().List(ctx, round.ID); herr == nil {
			for _, h := range holdings {
				ids = append(ids, h.CoinID)
			}
		}
		coins, merr := r.market.MarketData(ctx, dedupe(ids))
		if merr != nil {
			logger.Warnf("[api] portfolio market data failed ip=%s err=%v", c.ClientIP(), merr)
		}
		prices = market.PriceMap(coins)
	}
	val, err := ledger.Load(ctx, r.st, *round, prices)
	if err != nil {
		r.internalError(c, "portfolio", err)
		return
	}
	snaps, err := r.st.Snapshots().ListByRound(ctx, round.ID)
	if err != nil {
		r.internalError(c, "portfolio snapshots", err)
		return
	}
	points := make([]snapshotPoint, 0, len(snaps))
	for _, s := range snaps {
		points = append(points, snapshotPoint{TotalValue: s.TotalValue, Cash: s.Cash, CreatedAt: s.CreatedAt})
	}
	c.JSON(http.StatusOK, portfolioResponse{Valuation: val, Status: round.Status, CreatedAt: round.CreatedAt, Snapshots: points})
}

const (
	defaultPageSize = 10
	maxPageSize     = 10000
)

func (r *Router) handleTransactions(c *gin.Context) {
	ctx := c.Request.Context()
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(defaultPageSize)))
	if err != nil {
		pageSize = defaultPageSize
	}
	pageSize = min(max(pageSize, 1), maxPageSize)

	var roundID int64
	if raw := strings.TrimSpace(c.Query("roundId")); raw != "" {
		roundID, _ = strconv.ParseInt(raw, 10, 64)
		if roundID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid roundId"})
			return
		}
	} else {
		round, err := r.st.Rounds().Active(ctx)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active round"})
			return
		}
		if err != nil {
			r.internalError(c, "transactions", err)
			return
		}
		roundID = round.ID
	}

	txs, err := r.st.Transactions().Page(ctx, roundID, (page-1)*pageSize, pageSize)
	if err != nil {
		r.internalError(c, "transactions", err)
		return
	}
	total, err := r.st.Transactions().Count(ctx, roundID)
	if err != nil {
		r.internalError(c, "transactions count", err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"page":         page,
		"pageSize":     pageSize,
		"total":        total,
		"totalPages":   int64(math.Ceil(float64(total) / float64(pageSize))),
	})
}

type roundView struct {
	model.Round
	Analyses         []model.Analysis `json:"analyses"`
	TransactionCount int64            `json:"transactionCount"`
	FinalValue       *float64         `json:"finalValue"`
}

func (r *Router) handleRounds(c *gin.Context) {
	ctx := c.Request.Context()
	rounds, err := r.st.Rounds().List(ctx, 0)
	if err != nil {
		r.internalError(c, "rounds", err)
		return
	}
	out := make([]roundView, 0, len(rounds))
	for _, rd := range rounds {
		view := roundView{Round: rd}
		analyses, err := r.st.Analyses().ListByRound(ctx, rd.ID)
		if err != nil {
			r.internalError(c, "round analyses", err)
			return
		}
		slices.Reverse(analyses)
		view.Analyses = analyses
		if view.Analyses == nil {
			view.Analyses = []model.Analysis{}
		}
		if view.TransactionCount, err = r.st.Transactions().Count(ctx, rd.ID); err != nil {
			r.internalError(c, "round transactions", err)
			return
		}
		if snap, err := r.st.Snapshots().Latest(ctx, rd.ID); err == nil {
			v := snap.TotalValue
			view.FinalValue = &v
		} else if !errors.Is(err, store.ErrNotFound) {
			r.internalError(c, "round snapshot", err)
			return
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleRoundChart(c *gin.Context) {
	ctx := c.Request.Context()
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid round id"})
		return
	}
	round, err := r.st.Rounds().Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "round not found"})
		return
	}
	if err != nil {
		r.internalError(c, "round chart", err)
		return
	}
	snaps, err := r.st.Snapshots().ListByRound(ctx, id)
	if err != nil {
		r.internalError(c, "round chart", err)
		return
	}
	if len(snaps) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "round has no snapshots yet"})
		return
	}
	policy := r.engine.Policy()
	html, err := visual.RoundChartHTML(visual.RoundChartInput{
		Round:            *round,
		Snapshots:        snaps,
		BustThreshold:    policy.BustThreshold,
		TargetMultiplier: policy.TargetMultiplier,
	})
	if err != nil {
		r.internalError(c, "round chart", err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (r *Router) handleMarket(c *gin.Context) {
	if r.market == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "market gateway not configured"})
		return
	}
	ctx := c.Request.Context()
	ids := engine.WatchedCoins(ctx, r.st)
	if trending, err := r.market.Trending(ctx); err == nil {
		for _, t := range trending {
			ids = append(ids, t.ID)
		}
	} else {
		logger.Debugf("[api] market trending unavailable: %v", err)
	}
	coins, err := r.market.MarketData(ctx, dedupe(ids))
	if err != nil && len(coins) == 0 {
		logger.Errorf("[api] market failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if coins == nil {
		coins = []market.Coin{}
	}
	c.JSON(http.StatusOK, coins)
}

func (r *Router) handleTicks(c *gin.Context) {
	if r.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tick journal not enabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	limit = min(max(limit, 1), 500)
	entries, err := r.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		r.internalError(c, "ticks", err)
		return
	}
	if entries == nil {
		entries = []ticklog.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"ticks": entries})
}

func (r *Router) internalError(c *gin.Context, what string, err error) {
	logger.Errorf("[api] %s failed ip=%s err=%v", what, c.ClientIP(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
