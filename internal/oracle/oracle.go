// Package oracle turns portfolio and market context into trade decisions and
// retrospectives by asking an ordered list of language models.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"papertrader/internal/gateway/provider"
	"papertrader/internal/logger"
	"papertrader/internal/pkg/jsonutil"
)

type Options struct {
	MaxTokens      int
	Temperature    float64
	RateLimitDelay time.Duration
	RateLimitStep  time.Duration
}

type Oracle struct {
	models []provider.ModelProvider
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(models []provider.ModelProvider, opts Options) *Oracle {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}
	return &Oracle{models: models, opts: opts, sleep: sleepCtx}
}

// Models lists the configured model ids in call order.
func (o *Oracle) Models() []string {
	ids := make([]string, 0, len(o.models))
	for _, m := range o.models {
		ids = append(ids, m.ID())
	}
	return ids
}

// GetTradeDecisions asks for this tick's decisions. ErrAllModelsFailed means
// no model answered; ErrUnparseable means one answered without usable JSON.
func (o *Oracle) GetTradeDecisions(ctx context.Context, in DecisionInput) (ParseResult, error) {
	raw, modelID, err := o.complete(ctx, provider.Prompt{
		System:  decisionSystemPrompt(in),
		User:    decisionUserPrompt(in),
		Purpose: "decision",
	})
	if err != nil {
		return ParseResult{}, err
	}
	res, err := ParseDecisions(raw)
	res.Model = modelID
	if err != nil {
		return res, fmt.Errorf("model %s: %w", modelID, err)
	}
	logger.Debugf("[AI] %s decisions=%s", modelID, jsonutil.Compact(res.RawJSON))
	if res.Dropped > 0 {
		logger.Infof("[AI] %s: dropped %d unusable decision(s)", modelID, res.Dropped)
	}
	return res, nil
}

// GenerateRoundAnalysis writes a retrospective; the kind only changes the framing.
func (o *Oracle) GenerateRoundAnalysis(ctx context.Context, in AnalysisInput) (RoundAnalysis, error) {
	raw, modelID, err := o.complete(ctx, provider.Prompt{
		System:  analysisSystemPrompt(in),
		User:    analysisUserPrompt(in),
		Purpose: "analysis:" + string(in.Kind),
	})
	if err != nil {
		return RoundAnalysis{}, err
	}
	out, err := ParseAnalysis(raw)
	if err != nil {
		return RoundAnalysis{}, fmt.Errorf("model %s: %w", modelID, err)
	}
	return out, nil
}

// complete walks the models in order. After a rate-limited model it waits
// RateLimitDelay + i*RateLimitStep before moving to the next one.
func (o *Oracle) complete(ctx context.Context, p provider.Prompt) (string, string, error) {
	if len(o.models) == 0 {
		return "", "", fmt.Errorf("%w: no models configured", ErrAllModelsFailed)
	}
	p.MaxTokens = o.opts.MaxTokens
	p.Temperature = o.opts.Temperature
	var lastErr error
	for i, m := range o.models {
		out, err := m.Complete(ctx, p)
		if err == nil && out != "" {
			return out, m.ID(), nil
		}
		if err == nil {
			err = fmt.Errorf("model %s: empty response", m.ID())
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		logger.Warnf("[AI] model %s failed: %v", m.ID(), err)
		if errors.Is(err, provider.ErrRateLimited) && i < len(o.models)-1 {
			delay := o.opts.RateLimitDelay + time.Duration(i)*o.opts.RateLimitStep
			logger.Warnf("[AI] rate limited, waiting %s before next model", delay)
			if err := o.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
	}
	return "", "", fmt.Errorf("%w: last error: %v", ErrAllModelsFailed, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
