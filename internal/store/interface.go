package store

import (
	"context"
	"errors"

	"papertrader/internal/store/model"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// Store is the entry point for database access.
type Store interface {
	Rounds() RoundRepository
	Holdings() HoldingRepository
	Transactions() TransactionRepository
	Snapshots() SnapshotRepository
	Analyses() AnalysisRepository
	Settings() SettingsRepository

	// InTx runs fn inside one database transaction. The Store handed to fn
	// is bound to that transaction; fn returning an error rolls it back.
	InTx(ctx context.Context, fn func(tx Store) error) error
	// Close closes the store connection.
	Close() error
}

type RoundRepository interface {
	// Active returns the single active round or ErrNotFound.
	Active(ctx context.Context) (*model.Round, error)
	Create(ctx context.Context, round *model.Round) error
	// End moves an active round to a terminal status. It reports false when
	// the round was no longer active.
	End(ctx context.Context, id int64, status model.RoundStatus, endedAt int64) (bool, error)
	Get(ctx context.Context, id int64) (*model.Round, error)
	// List returns rounds newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]model.Round, error)
}

type HoldingRepository interface {
	List(ctx context.Context, roundID int64) ([]model.Holding, error)
	Get(ctx context.Context, roundID int64, coinID string) (*model.Holding, error)
	// Save inserts or updates the holding keyed by (round, coin).
	Save(ctx context.Context, h *model.Holding) error
	Delete(ctx context.Context, roundID int64, coinID string) error
}

type TransactionRepository interface {
	Insert(ctx context.Context, tx *model.Transaction) error
	// ListByRound returns the round's transactions oldest first.
	ListByRound(ctx context.Context, roundID int64) ([]model.Transaction, error)
	// Since returns the round's transactions created at or after since (unix ms), oldest first.
	Since(ctx context.Context, roundID int64, since int64) ([]model.Transaction, error)
	// Page returns transactions newest first. roundID 0 spans all rounds.
	Page(ctx context.Context, roundID int64, offset, limit int) ([]model.Transaction, error)
	Count(ctx context.Context, roundID int64) (int64, error)
}

type SnapshotRepository interface {
	Insert(ctx context.Context, snap *model.Snapshot) error
	ListByRound(ctx context.Context, roundID int64) ([]model.Snapshot, error)
	Since(ctx context.Context, roundID int64, since int64) ([]model.Snapshot, error)
	Latest(ctx context.Context, roundID int64) (*model.Snapshot, error)
}

type AnalysisRepository interface {
	Insert(ctx context.Context, a *model.Analysis) error
	// Recent returns the newest analyses across all rounds.
	Recent(ctx context.Context, limit int) ([]model.Analysis, error)
	// Latest returns the newest analysis of the given type for a round, or ErrNotFound.
	Latest(ctx context.Context, roundID int64, typ model.AnalysisType) (*model.Analysis, error)
	ListByRound(ctx context.Context, roundID int64) ([]model.Analysis, error)
}

// SettingsRepository is the flat key/value config table.
type SettingsRepository interface {
	// Get reports ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}
