package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"papertrader/internal/logger"
)

const (
	fearGreedErrorBackoff   = 2 * time.Minute
	fearGreedFallbackUpdate = 12 * time.Hour
)

type FearGreedPoint struct {
	Value          int
	Classification string
	Timestamp      time.Time
}

// FearGreedData is the cached index. Error is set (and Value zero) when the
// last refresh failed.
type FearGreedData struct {
	Value           int
	Classification  string
	Timestamp       time.Time
	TimeUntilUpdate time.Duration
	History         []FearGreedPoint
	LastUpdate      time.Time
	Error           string
}

// FearGreedIndex is the value handed to the oracle.
type FearGreedIndex struct {
	Value          int    `json:"value"`
	Classification string `json:"classification"`
}

type FearGreedService struct {
	endpoint string
	client   *http.Client

	mu         sync.RWMutex
	data       FearGreedData
	nextUpdate time.Time
	refreshMu  sync.Mutex
}

func NewFearGreedService(endpoint string, timeout time.Duration) *FearGreedService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FearGreedService{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Current refreshes when stale and returns the latest successful reading.
func (s *FearGreedService) Current(ctx context.Context) (*FearGreedIndex, error) {
	if s == nil {
		return nil, fmt.Errorf("fear & greed service not configured")
	}
	s.RefreshIfStale(ctx)
	data, ok := s.Get()
	if !ok {
		return nil, fmt.Errorf("fear & greed not loaded")
	}
	if data.Error != "" {
		return nil, fmt.Errorf("fear & greed: %s", data.Error)
	}
	return &FearGreedIndex{Value: data.Value, Classification: data.Classification}, nil
}

func (s *FearGreedService) Get() (FearGreedData, bool) {
	if s == nil {
		return FearGreedData{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok := !s.data.LastUpdate.IsZero()
	return s.data, ok
}

func (s *FearGreedService) RefreshIfStale(ctx context.Context) {
	if s == nil {
		return
	}
	now := time.Now()
	s.mu.RLock()
	next := s.nextUpdate
	last := s.data.LastUpdate
	s.mu.RUnlock()
	if !last.IsZero() && !next.IsZero() && now.Before(next) {
		return
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.RLock()
	next = s.nextUpdate
	last = s.data.LastUpdate
	s.mu.RUnlock()
	if !last.IsZero() && !next.IsZero() && now.Before(next) {
		return
	}
	if err := s.refresh(ctx); err != nil {
		logger.Warnf("Fear & Greed refresh failed: %v", err)
	}
}

type fearGreedResponse struct {
	Data []struct {
		Value               string `json:"value"`
		ValueClassification string `json:"value_classification"`
		Timestamp           string `json:"timestamp"`
		TimeUntilUpdate     string `json:"time_until_update"`
	} `json:"data"`
	Metadata struct {
		Error interface{} `json:"error"`
	} `json:"metadata"`
}

func (s *FearGreedService) refresh(ctx context.Context) error {
	data, until, err := s.fetch(ctx)
	now := time.Now()
	if err != nil {
		s.setData(FearGreedData{LastUpdate: now, Error: err.Error()}, now.Add(fearGreedErrorBackoff))
		return err
	}
	data.LastUpdate = now
	next := now.Add(fearGreedFallbackUpdate)
	if until > 0 {
		next = now.Add(until)
	}
	s.setData(data, next)
	return nil
}

func (s *FearGreedService) fetch(ctx context.Context) (FearGreedData, time.Duration, error) {
	if s.client == nil || s.endpoint == "" {
		return FearGreedData{}, 0, fmt.Errorf("fear & greed service not initialized")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return FearGreedData{}, 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return FearGreedData{}, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FearGreedData{}, 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var payload fearGreedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return FearGreedData{}, 0, err
	}
	if payload.Metadata.Error != nil {
		return FearGreedData{}, 0, fmt.Errorf("api error: %v", payload.Metadata.Error)
	}

	var points []FearGreedPoint
	for _, item := range payload.Data {
		value, err := strconv.Atoi(strings.TrimSpace(item.Value))
		if err != nil {
			continue
		}
		point := FearGreedPoint{Value: value, Classification: strings.TrimSpace(item.ValueClassification)}
		if sec, err := strconv.ParseInt(strings.TrimSpace(item.Timestamp), 10, 64); err == nil {
			point.Timestamp = time.Unix(sec, 0).UTC()
		}
		points = append(points, point)
	}
	if len(points) == 0 {
		return FearGreedData{}, 0, fmt.Errorf("api data empty")
	}
	var until time.Duration
	if secs, err := strconv.ParseInt(strings.TrimSpace(payload.Data[0].TimeUntilUpdate), 10, 64); err == nil && secs > 0 {
		until = time.Duration(secs) * time.Second
	}
	latest := points[0]
	return FearGreedData{
		Value:           latest.Value,
		Classification:  latest.Classification,
		Timestamp:       latest.Timestamp,
		TimeUntilUpdate: until,
		History:         points,
	}, until, nil
}

func (s *FearGreedService) setData(data FearGreedData, next time.Time) {
	s.mu.Lock()
	s.data = data
	s.nextUpdate = next
	s.mu.Unlock()
}
