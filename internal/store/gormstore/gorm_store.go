package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"papertrader/internal/store"
	"papertrader/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore implements store.Store using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

// NewGormStore opens (and migrates) the SQLite database file at path.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return Open(fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path))
}

// Open connects to an arbitrary SQLite DSN, e.g. "file:x?mode=memory&cache=shared" in tests.
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&model.Round{},
		&model.Holding{},
		&model.Transaction{},
		&model.Snapshot{},
		&model.Analysis{},
		&model.ConfigEntry{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a little read parallelism for the HTTP views
	// while the tick writes.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GormDB exposes the underlying *gorm.DB.
func (s *GormStore) GormDB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *GormStore) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) Rounds() store.RoundRepository             { return roundRepo{db: s.db} }
func (s *GormStore) Holdings() store.HoldingRepository         { return holdingRepo{db: s.db} }
func (s *GormStore) Transactions() store.TransactionRepository { return transactionRepo{db: s.db} }
func (s *GormStore) Snapshots() store.SnapshotRepository       { return snapshotRepo{db: s.db} }
func (s *GormStore) Analyses() store.AnalysisRepository        { return analysisRepo{db: s.db} }
func (s *GormStore) Settings() store.SettingsRepository        { return settingsRepo{db: s.db} }

// --------------------- Rounds -------------------------

type roundRepo struct{ db *gorm.DB }

func (r roundRepo) Active(ctx context.Context) (*model.Round, error) {
	var round model.Round
	err := r.db.WithContext(ctx).
		Where("status = ?", model.RoundActive).
		Order("id DESC").
		Take(&round).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &round, nil
}

func (r roundRepo) Create(ctx context.Context, round *model.Round) error {
	if round == nil {
		return fmt.Errorf("round is nil")
	}
	if round.Status == "" {
		round.Status = model.RoundActive
	}
	if round.CreatedAt == 0 {
		round.CreatedAt = nowMillis()
	}
	return r.db.WithContext(ctx).Create(round).Error
}

func (r roundRepo) End(ctx context.Context, id int64, status model.RoundStatus, endedAt int64) (bool, error) {
	if status == model.RoundActive {
		return false, fmt.Errorf("cannot end round %d with status %s", id, status)
	}
	res := r.db.WithContext(ctx).
		Model(&model.Round{}).
		Where("id = ? AND status = ?", id, model.RoundActive).
		Updates(map[string]interface{}{"status": status, "ended_at": endedAt})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r roundRepo) Get(ctx context.Context, id int64) (*model.Round, error) {
	var round model.Round
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&round).Error; err != nil {
		return nil, notFound(err)
	}
	return &round, nil
}

func (r roundRepo) List(ctx context.Context, limit int) ([]model.Round, error) {
	var rounds []model.Round
	q := r.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rounds).Error; err != nil {
		return nil, err
	}
	return rounds, nil
}

// --------------------- Holdings -------------------------

type holdingRepo struct{ db *gorm.DB }

func (r holdingRepo) List(ctx context.Context, roundID int64) ([]model.Holding, error) {
	var out []model.Holding
	err := r.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("coin_id ASC").
		Find(&out).Error
	return out, err
}

func (r holdingRepo) Get(ctx context.Context, roundID int64, coinID string) (*model.Holding, error) {
	var h model.Holding
	err := r.db.WithContext(ctx).
		Where("round_id = ? AND coin_id = ?", roundID, coinID).
		Take(&h).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &h, nil
}

func (r holdingRepo) Save(ctx context.Context, h *model.Holding) error {
	if h == nil {
		return fmt.Errorf("holding is nil")
	}
	h.UpdatedAt = nowMillis()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "round_id"}, {Name: "coin_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"coin_name", "amount", "avg_buy_price", "updated_at"}),
		}).
		Create(h).Error
}

func (r holdingRepo) Delete(ctx context.Context, roundID int64, coinID string) error {
	return r.db.WithContext(ctx).
		Where("round_id = ? AND coin_id = ?", roundID, coinID).
		Delete(&model.Holding{}).Error
}

// --------------------- Transactions -------------------------

type transactionRepo struct{ db *gorm.DB }

func (r transactionRepo) Insert(ctx context.Context, tx *model.Transaction) error {
	if tx == nil {
		return fmt.Errorf("transaction is nil")
	}
	if tx.CreatedAt == 0 {
		tx.CreatedAt = nowMillis()
	}
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r transactionRepo) ListByRound(ctx context.Context, roundID int64) ([]model.Transaction, error) {
	var out []model.Transaction
	err := r.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r transactionRepo) Since(ctx context.Context, roundID int64, since int64) ([]model.Transaction, error) {
	var out []model.Transaction
	err := r.db.WithContext(ctx).
		Where("round_id = ? AND created_at >= ?", roundID, since).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r transactionRepo) Page(ctx context.Context, roundID int64, offset, limit int) ([]model.Transaction, error) {
	var out []model.Transaction
	q := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if roundID > 0 {
		q = q.Where("round_id = ?", roundID)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r transactionRepo) Count(ctx context.Context, roundID int64) (int64, error) {
	var n int64
	q := r.db.WithContext(ctx).Model(&model.Transaction{})
	if roundID > 0 {
		q = q.Where("round_id = ?", roundID)
	}
	err := q.Count(&n).Error
	return n, err
}

// --------------------- Snapshots -------------------------

type snapshotRepo struct{ db *gorm.DB }

func (r snapshotRepo) Insert(ctx context.Context, snap *model.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}
	if snap.CreatedAt == 0 {
		snap.CreatedAt = nowMillis()
	}
	return r.db.WithContext(ctx).Create(snap).Error
}

func (r snapshotRepo) ListByRound(ctx context.Context, roundID int64) ([]model.Snapshot, error) {
	return r.Since(ctx, roundID, 0)
}

func (r snapshotRepo) Since(ctx context.Context, roundID int64, since int64) ([]model.Snapshot, error) {
	var out []model.Snapshot
	err := r.db.WithContext(ctx).
		Where("round_id = ? AND created_at >= ?", roundID, since).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r snapshotRepo) Latest(ctx context.Context, roundID int64) (*model.Snapshot, error) {
	var snap model.Snapshot
	err := r.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("created_at DESC, id DESC").
		Take(&snap).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &snap, nil
}

// --------------------- Analyses -------------------------

type analysisRepo struct{ db *gorm.DB }

func (r analysisRepo) Insert(ctx context.Context, a *model.Analysis) error {
	if a == nil {
		return fmt.Errorf("analysis is nil")
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = nowMillis()
	}
	return r.db.WithContext(ctx).Create(a).Error
}

func (r analysisRepo) Recent(ctx context.Context, limit int) ([]model.Analysis, error) {
	var out []model.Analysis
	q := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r analysisRepo) Latest(ctx context.Context, roundID int64, typ model.AnalysisType) (*model.Analysis, error) {
	var a model.Analysis
	err := r.db.WithContext(ctx).
		Where("round_id = ? AND type = ?", roundID, typ).
		Order("created_at DESC, id DESC").
		Take(&a).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r analysisRepo) ListByRound(ctx context.Context, roundID int64) ([]model.Analysis, error) {
	var out []model.Analysis
	err := r.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// --------------------- Settings -------------------------

type settingsRepo struct{ db *gorm.DB }

func (r settingsRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var entry model.ConfigEntry
	err := r.db.WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

func (r settingsRepo) Set(ctx context.Context, key, value string) error {
	entry := model.ConfigEntry{Key: key, Value: value, UpdatedAt: nowMillis()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry).Error
}

// Helper functions

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
