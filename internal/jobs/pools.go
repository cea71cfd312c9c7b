package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/clock"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"go.uber.org/zap"
)

// DefaultPoolListURL serves the community-maintained coinbase tag list.
const DefaultPoolListURL = "https://raw.githubusercontent.com/bitcoin-data/mining-pools/generated/pools-v2.json"

// PoolTagLoader refreshes the coinbase-tag to pool mapping from a published
// JSON list.
type PoolTagLoader struct {
	store    PoolStore
	url      string
	interval time.Duration
	client   *http.Client
	logger   *zap.Logger
}

// NewPoolTagLoader constructs a PoolTagLoader.
func NewPoolTagLoader(store PoolStore, url string, interval time.Duration, logger *zap.Logger) *PoolTagLoader {
	if url == "" {
		url = DefaultPoolListURL
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &PoolTagLoader{
		store:    store,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// Run refreshes the tag table once per interval until canceled.
func (l *PoolTagLoader) Run(ctx context.Context) error {
	return clock.Every(ctx, l.interval, l.refresh, func(err error) {
		l.logger.Warn("pool tag refresh failed", zap.Error(err))
	})
}

type poolListEntry struct {
	Name string `json:"name"`
	Link string `json:"link"`
}

type poolList struct {
	CoinbaseTags map[string]poolListEntry `json:"coinbase_tags"`
}

func (l *PoolTagLoader) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pool list fetch returned %s", resp.Status)
	}

	var list poolList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decode pool list: %w", err)
	}

	tags := make([]model.PoolTag, 0, len(list.CoinbaseTags))
	for tag, entry := range list.CoinbaseTags {
		tags = append(tags, model.PoolTag{Tag: tag, Name: entry.Name, URL: entry.Link})
	}
	if len(tags) == 0 {
		return nil
	}
	return l.store.UpsertPoolTags(ctx, tags)
}
