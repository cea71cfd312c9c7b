package scanner

import (
	"context"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"go.uber.org/zap"
)

// StaleAnalyser detects height collisions and maintains per-branch rows.
type StaleAnalyser struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// NewStaleAnalyser constructs a StaleAnalyser.
func NewStaleAnalyser(store Store, cfg Config, logger *zap.Logger) *StaleAnalyser {
	return &StaleAnalyser{store: store, cfg: cfg.normalized(), logger: logger}
}

// Process finds new stale candidates and rebuilds branch rows for the live
// ones. It returns the candidates currently inside the live window.
func (a *StaleAnalyser) Process(ctx context.Context) ([]model.StaleCandidate, error) {
	maxHeight, err := a.store.MaxHeight(ctx)
	if err != nil {
		return nil, err
	}
	windowFloor := maxHeight - a.cfg.StaleWindow

	// The floor itself is inside the window, hence the -1 on the exclusive
	// query bound.
	heights, err := a.store.StaleCandidateHeights(ctx, windowFloor-1)
	if err != nil {
		return nil, err
	}

	for _, height := range heights {
		blocks, err := a.store.BlocksAtHeight(ctx, height)
		if err != nil {
			return nil, err
		}
		prev, err := a.store.BlocksAtHeight(ctx, height-1)
		if err != nil {
			return nil, err
		}
		// Only a well-defined fork point counts: an ambiguous previous
		// height means the divergence started earlier.
		if len(blocks) < 2 || len(prev) != 1 {
			continue
		}
		created, err := a.store.CreateStaleCandidate(ctx, height, len(blocks))
		if err != nil {
			return nil, err
		}
		if created {
			a.logger.Info("stale candidate found",
				zap.Int64("height", height), zap.Int("blocks", len(blocks)))
		}
	}

	candidates, err := a.store.StaleCandidatesAtLeast(ctx, windowFloor)
	if err != nil {
		return nil, err
	}

	// Candidates below the window stay frozen: their branch rows are no
	// longer recomputed.
	var live []model.StaleCandidate
	for _, candidate := range candidates {
		if err := a.rebuildChildren(ctx, candidate); err != nil {
			return nil, err
		}
		live = append(live, candidate)
	}
	return live, nil
}

// rebuildChildren recomputes the root/tip/length row of every branch from
// scratch. The canonical continuation at each step is the heaviest child.
func (a *StaleAnalyser) rebuildChildren(ctx context.Context, candidate model.StaleCandidate) error {
	roots, err := a.store.BlocksAtHeight(ctx, candidate.Height)
	if err != nil {
		return err
	}

	children := make([]model.StaleCandidateChild, 0, len(roots))
	for _, root := range roots {
		tip := root
		length := 1
		for {
			next, err := a.heaviestChild(ctx, tip.Hash)
			if err != nil {
				return err
			}
			if next == nil {
				break
			}
			tip = *next
			length++
		}
		children = append(children, model.StaleCandidateChild{
			CandidateHeight: candidate.Height,
			RootHash:        root.Hash,
			TipHash:         tip.Hash,
			Length:          length,
		})
	}

	return a.store.ReplaceStaleCandidateChildren(ctx, candidate.Height, children)
}

func (a *StaleAnalyser) heaviestChild(ctx context.Context, hash string) (*model.Block, error) {
	blocks, err := a.store.BlockChildren(ctx, hash)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	best := blocks[0]
	for _, b := range blocks[1:] {
		if model.CompareWork(b.Work, best.Work) > 0 {
			best = b
		}
	}
	return &best, nil
}
