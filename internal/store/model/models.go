package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type RoundStatus string

const (
	RoundActive    RoundStatus = "active"
	RoundBusted    RoundStatus = "busted"
	RoundExpired   RoundStatus = "expired"
	RoundCompleted RoundStatus = "completed"
)

type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

type AnalysisType string

const (
	AnalysisPeriodic AnalysisType = "periodic"
	AnalysisBust     AnalysisType = "bust"
	AnalysisFinal    AnalysisType = "final"
)

// Timestamps are stored as unix milliseconds.

type Round struct {
	ID           int64       `gorm:"column:id;primaryKey" json:"id"`
	StartBalance float64     `gorm:"column:start_balance" json:"startBalance"`
	Status       RoundStatus `gorm:"column:status;index" json:"status"`
	CreatedAt    int64       `gorm:"column:created_at" json:"createdAt"`
	EndedAt      *int64      `gorm:"column:ended_at" json:"endedAt"`
}

func (Round) TableName() string { return "rounds" }

func (r Round) Created() time.Time { return time.UnixMilli(r.CreatedAt) }

// Age is how long the round has been running at now.
func (r Round) Age(now time.Time) time.Duration { return now.Sub(r.Created()) }

type Holding struct {
	ID          int64   `gorm:"column:id;primaryKey" json:"id"`
	RoundID     int64   `gorm:"column:round_id;uniqueIndex:idx_holding_round_coin,priority:1" json:"roundId"`
	CoinID      string  `gorm:"column:coin_id;uniqueIndex:idx_holding_round_coin,priority:2" json:"coinId"`
	CoinName    string  `gorm:"column:coin_name" json:"coinName"`
	Amount      float64 `gorm:"column:amount" json:"amount"`
	AvgBuyPrice float64 `gorm:"column:avg_buy_price" json:"avgBuyPrice"`
	UpdatedAt   int64   `gorm:"column:updated_at" json:"updatedAt"`
}

func (Holding) TableName() string { return "holdings" }

// Transaction is immutable once inserted. Profit is nil for buys.
type Transaction struct {
	ID        int64     `gorm:"column:id;primaryKey" json:"id"`
	RoundID   int64     `gorm:"column:round_id;index" json:"roundId"`
	Type      TradeType `gorm:"column:type" json:"type"`
	CoinID    string    `gorm:"column:coin_id" json:"coinId"`
	CoinName  string    `gorm:"column:coin_name" json:"coinName"`
	Amount    float64   `gorm:"column:amount" json:"amount"`
	Price     float64   `gorm:"column:price" json:"price"`
	Total     float64   `gorm:"column:total" json:"total"`
	Fee       float64   `gorm:"column:fee" json:"fee"`
	Tax       float64   `gorm:"column:tax" json:"tax"`
	Profit    *float64  `gorm:"column:profit" json:"profit"`
	Reasoning string    `gorm:"column:reasoning" json:"reasoning"`
	CreatedAt int64     `gorm:"column:created_at;index" json:"createdAt"`
}

func (Transaction) TableName() string { return "transactions" }

type Snapshot struct {
	ID         int64   `gorm:"column:id;primaryKey" json:"id"`
	RoundID    int64   `gorm:"column:round_id;index" json:"roundId"`
	TotalValue float64 `gorm:"column:total_value" json:"totalValue"`
	Cash       float64 `gorm:"column:cash" json:"cash"`
	CreatedAt  int64   `gorm:"column:created_at;index" json:"createdAt"`
}

func (Snapshot) TableName() string { return "snapshots" }

type Analysis struct {
	ID         int64          `gorm:"column:id;primaryKey" json:"id"`
	RoundID    int64          `gorm:"column:round_id;index" json:"roundId"`
	Type       AnalysisType   `gorm:"column:type" json:"type"`
	Summary    string         `gorm:"column:summary" json:"summary"`
	Lessons    datatypes.JSON `gorm:"column:lessons;type:TEXT" json:"lessons"`
	Mistakes   datatypes.JSON `gorm:"column:mistakes;type:TEXT" json:"mistakes"`
	Strategies datatypes.JSON `gorm:"column:strategies;type:TEXT" json:"strategies"`
	CreatedAt  int64          `gorm:"column:created_at;index" json:"createdAt"`
}

func (Analysis) TableName() string { return "analyses" }

func (a Analysis) LessonList() []string { return decodeList(a.Lessons) }

// EncodeList turns a text list into a JSON column value. nil encodes as [].
func EncodeList(items []string) datatypes.JSON {
	if items == nil {
		items = []string{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}

func decodeList(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// ConfigEntry is one row of the flat key/value settings table.
type ConfigEntry struct {
	Key       string `gorm:"column:key;primaryKey" json:"key"`
	Value     string `gorm:"column:value" json:"value"`
	UpdatedAt int64  `gorm:"column:updated_at" json:"updatedAt"`
}

func (ConfigEntry) TableName() string { return "config" }
