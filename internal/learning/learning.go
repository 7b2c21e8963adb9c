// Package learning produces retrospectives and feeds their lessons back into
// later decisions.
package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"papertrader/internal/logger"
	"papertrader/internal/oracle"
	"papertrader/internal/store"
	"papertrader/internal/store/model"
)

const (
	defaultInterval = 24 * time.Hour
	defaultLessons  = 3
)

// Generator writes a retrospective from a round history.
type Generator interface {
	GenerateRoundAnalysis(ctx context.Context, in oracle.AnalysisInput) (oracle.RoundAnalysis, error)
}

type Options struct {
	Currency string
	// Interval is both the periodic cadence and its trailing window.
	Interval time.Duration
	// LessonAnalyses is how many recent analyses feed the lessons list.
	LessonAnalyses int
}

type Service struct {
	gen  Generator
	opts Options
	now  func() time.Time
}

func NewService(gen Generator, opts Options) *Service {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.LessonAnalyses <= 0 {
		opts.LessonAnalyses = defaultLessons
	}
	return &Service{gen: gen, opts: opts, now: time.Now}
}

var lessonTags = []string{"[LATEST]", "[PREVIOUS]"}

const olderTag = "[OLDER]"

// Lessons returns the lessons of the most recent analyses across all rounds,
// newest first, each prefixed with its recency tag.
func (s *Service) Lessons(ctx context.Context, st store.Store) ([]string, error) {
	analyses, err := st.Analyses().Recent(ctx, s.opts.LessonAnalyses)
	if err != nil {
		return nil, fmt.Errorf("load analyses: %w", err)
	}
	var out []string
	for i, a := range analyses {
		tag := olderTag
		if i < len(lessonTags) {
			tag = lessonTags[i]
		}
		for _, l := range a.LessonList() {
			out = append(out, tag+" "+l)
		}
	}
	return out, nil
}

// ShouldRunPeriodic reports whether Interval has passed since the later of
// the round's creation and its last periodic analysis.
func (s *Service) ShouldRunPeriodic(ctx context.Context, st store.Store, round model.Round, now time.Time) (bool, error) {
	ref := round.CreatedAt
	last, err := st.Analyses().Latest(ctx, round.ID, model.AnalysisPeriodic)
	switch {
	case err == nil:
		ref = max(ref, last.CreatedAt)
	case !errors.Is(err, store.ErrNotFound):
		return false, err
	}
	return now.Sub(time.UnixMilli(ref)) >= s.opts.Interval, nil
}

// Periodic analyses the trailing Interval of a running round.
func (s *Service) Periodic(ctx context.Context, st store.Store, round model.Round) (*model.Analysis, error) {
	since := s.now().Add(-s.opts.Interval).UnixMilli()
	txs, err := st.Transactions().Since(ctx, round.ID, since)
	if err != nil {
		return nil, err
	}
	snaps, err := st.Snapshots().Since(ctx, round.ID, since)
	if err != nil {
		return nil, err
	}
	final := round.StartBalance
	if n := len(snaps); n > 0 {
		final = snaps[n-1].TotalValue
	}
	return s.generate(ctx, st, round, model.AnalysisPeriodic, txs, snaps, final)
}

// Terminal analyses a whole round after it ended with the given kind.
func (s *Service) Terminal(ctx context.Context, st store.Store, round model.Round, kind model.AnalysisType) (*model.Analysis, error) {
	txs, err := st.Transactions().ListByRound(ctx, round.ID)
	if err != nil {
		return nil, err
	}
	snaps, err := st.Snapshots().ListByRound(ctx, round.ID)
	if err != nil {
		return nil, err
	}
	var final float64
	if n := len(snaps); n > 0 {
		final = snaps[n-1].TotalValue
	}
	return s.generate(ctx, st, round, kind, txs, snaps, final)
}

func (s *Service) generate(ctx context.Context, st store.Store, round model.Round, kind model.AnalysisType,
	txs []model.Transaction, snaps []model.Snapshot, final float64) (*model.Analysis, error) {
	lessons, err := s.Lessons(ctx, st)
	if err != nil {
		logger.Warnf("learning: lessons unavailable: %v", err)
	}
	res, err := s.gen.GenerateRoundAnalysis(ctx, oracle.AnalysisInput{
		Kind:         kind,
		Currency:     s.opts.Currency,
		StartBalance: round.StartBalance,
		FinalValue:   final,
		Window:       s.opts.Interval,
		Transactions: txs,
		Snapshots:    snaps,
		Lessons:      lessons,
	})
	if err != nil {
		return nil, fmt.Errorf("%s analysis for round %d: %w", kind, round.ID, err)
	}
	a := &model.Analysis{
		RoundID:    round.ID,
		Type:       kind,
		Summary:    res.Summary,
		Lessons:    model.EncodeList(res.Lessons),
		Mistakes:   model.EncodeList(res.Mistakes),
		Strategies: model.EncodeList(res.Strategies),
		CreatedAt:  s.now().UnixMilli(),
	}
	if err := st.Analyses().Insert(ctx, a); err != nil {
		return nil, err
	}
	logger.Infof("learning: %s analysis stored for round %d (%d lessons)", kind, round.ID, len(res.Lessons))
	return a, nil
}
