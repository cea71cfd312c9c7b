package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/clock"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"go.uber.org/zap"
)

// rollbackTimeout bounds one mirror rollback; mirrors re-validating a branch
// can take minutes.
const rollbackTimeout = 5 * time.Minute

// conflictLookback is the created_at window for invalid-block conflict rows.
const conflictLookback = 15 * time.Minute

// Scanner drives the serial reconciliation tick: poll, ingest, surgery,
// rollback triggers, stale analysis, classification, lag detection, publish.
type Scanner struct {
	cfg     Config
	store   Store
	logger  *zap.Logger
	metrics ScannerMetrics
	hub     *Hub

	poller     *Poller
	reconciler *Reconciler
	analyser   *StaleAnalyser
	classifier *Classifier
	rollback   *RollbackOrchestrator

	sleep func(context.Context, time.Duration) error
	now   func() time.Time

	mu            sync.Mutex
	published     map[Topic]string
	seenConflicts map[string]struct{}

	rollbackWG sync.WaitGroup
}

// New wires a Scanner from its collaborators.
func New(store Store, clients ClientFactory, cfg Config, hub *Hub, metrics ScannerMetrics, logger *zap.Logger) (*Scanner, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if clients == nil {
		return nil, errors.New("client factory is required")
	}
	if hub == nil {
		return nil, errors.New("event hub is required")
	}
	cfg = cfg.normalized()

	return &Scanner{
		cfg:           cfg,
		store:         store,
		logger:        logger,
		metrics:       metrics,
		hub:           hub,
		poller:        NewPoller(store, clients, cfg, metrics, logger.Named("poller")),
		reconciler:    NewReconciler(store, clients, cfg, logger.Named("reconciler")),
		analyser:      NewStaleAnalyser(store, cfg, logger.Named("stale")),
		classifier:    NewClassifier(store, clients, cfg, logger.Named("classifier")),
		rollback:      NewRollbackOrchestrator(store, clients, cfg, metrics, logger.Named("rollback")),
		sleep:         clock.SleepWithContext,
		now:           time.Now,
		published:     make(map[Topic]string),
		seenConflicts: make(map[string]struct{}),
	}, nil
}

// Run executes ticks until the context is canceled, then drains in-flight
// rollbacks.
func (s *Scanner) Run(ctx context.Context) error {
	defer s.rollbackWG.Wait()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		tickCtx, cancel := context.WithTimeout(ctx, 2*s.cfg.PollInterval)
		err := s.Tick(tickCtx)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("tick failed", zap.Error(err))
		}

		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// Tick runs one full reconciliation pass.
func (s *Scanner) Tick(ctx context.Context) (err error) {
	started := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveTick(err, started)
		}
	}()

	nodes, err := s.store.ListEnabledNodes(ctx)
	if err != nil {
		return err
	}
	nodeMap := make(map[int64]model.Node, len(nodes))
	for _, node := range nodes {
		nodeMap[node.ID] = node
	}

	results := s.poller.Poll(ctx, nodes)
	for _, res := range results {
		if ingestErr := s.reconciler.IngestTips(ctx, res); ingestErr != nil {
			s.logger.Warn("node ingestion failed",
				zap.String("node", res.Node.Name), zap.Error(ingestErr))
		}
	}

	if err = s.reconciler.RunSurgery(ctx); err != nil {
		return err
	}

	s.triggerRollbacks(ctx, results)

	live, err := s.analyser.Process(ctx)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SetLiveStaleCandidates(len(live))
	}

	maxHeight, err := s.store.MaxHeight(ctx)
	if err != nil {
		return err
	}
	if err = s.classifier.Classify(ctx, newestCandidates(live, s.cfg.ClassifyDepth), nodeMap, maxHeight); err != nil {
		return err
	}

	global, err := s.reconciler.GlobalActiveTip(ctx, nodeMap)
	if err != nil {
		return err
	}
	lags, err := s.reconciler.DetectLags(ctx, global)
	if err != nil {
		return err
	}

	return s.publishEvents(ctx, global, maxHeight, lags)
}

// newestCandidates picks the n highest candidates from an ascending list.
func newestCandidates(live []model.StaleCandidate, n int) []model.StaleCandidate {
	if len(live) <= n {
		return live
	}
	return live[len(live)-n:]
}

// triggerRollbacks spawns one rollback per pending valid-headers target.
// Each runs detached from the tick deadline; the per-mirror lock serialises
// overlapping attempts.
func (s *Scanner) triggerRollbacks(ctx context.Context, results []PollResult) {
	for _, res := range results {
		targets, err := s.rollback.PendingTargets(ctx, res)
		if err != nil {
			s.logger.Warn("rollback target scan failed",
				zap.String("node", res.Node.Name), zap.Error(err))
			continue
		}
		for _, target := range targets {
			node := res.Node
			hash := target.Hash
			s.rollbackWG.Add(1)
			go func() {
				defer s.rollbackWG.Done()
				rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
				defer cancel()
				if rbErr := s.rollback.ValidateBlock(rbCtx, node, hash); rbErr != nil {
					s.logger.Warn("rollback failed",
						zap.String("node", node.Name),
						zap.String("block", hash),
						zap.Error(rbErr))
				}
			}()
		}
	}
}

func (s *Scanner) publishEvents(ctx context.Context, global *TipView, maxHeight int64, lags []model.Lag) error {
	tips, err := s.store.ListActiveTips(ctx)
	if err != nil {
		return err
	}

	distinct := make(map[string]struct{})
	for _, tip := range tips {
		distinct[tip.BlockHash] = struct{}{}
	}
	if len(distinct) > 1 {
		s.publish(TopicForks, tips)
	}

	if global != nil {
		s.publish(TopicActiveFork, []model.Chaintip{global.Tip})
	}

	// Re-read the candidates so the payload reflects this tick's
	// classification results.
	candidates, err := s.store.StaleCandidatesAtLeast(ctx, maxHeight-s.cfg.StaleWindow)
	if err != nil {
		return err
	}
	if len(candidates) > 0 {
		s.publish(TopicValidationChecks, candidates)
	}

	if len(lags) > 0 {
		s.publish(TopicLaggingNodes, lags)
	}

	conflicts, err := s.store.RecentConflicts(ctx, s.now().Add(-conflictLookback))
	if err != nil {
		return err
	}
	var fresh []model.ConflictingBlock
	s.mu.Lock()
	for _, conflict := range conflicts {
		if _, ok := s.seenConflicts[conflict.Hash]; !ok {
			s.seenConflicts[conflict.Hash] = struct{}{}
			fresh = append(fresh, conflict)
		}
	}
	s.mu.Unlock()
	if len(fresh) > 0 {
		s.emit(TopicInvalidBlocks, fresh)
	}
	return nil
}

// publish emits an event unless the payload is identical to the last one
// sent on the topic; re-ingesting an unchanged view stays silent.
func (s *Scanner) publish(topic Topic, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("event payload marshal failed",
			zap.String("topic", string(topic)), zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.published[topic] == string(raw) {
		s.mu.Unlock()
		return
	}
	s.published[topic] = string(raw)
	s.mu.Unlock()

	s.emit(topic, payload)
}

func (s *Scanner) emit(topic Topic, payload interface{}) {
	s.hub.Publish(Event{Topic: topic, Payload: payload, CreatedAt: s.now()})
	if s.metrics != nil {
		s.metrics.ObservePublish(string(topic))
	}
}
