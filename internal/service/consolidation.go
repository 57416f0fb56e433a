package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// decayedImportanceFloor selects episodes for consolidation.
	decayedImportanceFloor = 0.1

	// consolidationWindow groups episodes whose timestamps fall within it.
	consolidationWindow = 12 * time.Hour

	// consolidationBatch bounds how many episodes one sweep examines per lane.
	consolidationBatch = 200

	// summarizeTimeout bounds the LLM summary call. On timeout or error the
	// sweep falls back to truncated concatenation.
	summarizeTimeout = 30 * time.Second

	defaultSweepInterval = time.Hour
	defaultSweepAge      = 7 * 24 * time.Hour
)

// ConsolidationService periodically replaces groups of old, low-importance
// episodes with a single summary episode. The background sweep walks the
// tenant lanes registered with Track; consolidateMemories can also be
// invoked directly for one tenant.
type ConsolidationService struct {
	graph    domain.GraphStore
	llm      domain.LLMClient
	episodes *EpisodeService
	logger   *zap.Logger

	interval time.Duration
	sweepAge time.Duration

	mu      sync.Mutex
	tenants map[string]domain.TenantContext

	stopCh chan struct{}
	wg     sync.WaitGroup

	now func() time.Time
}

func NewConsolidationService(graph domain.GraphStore, llm domain.LLMClient, episodes *EpisodeService, logger *zap.Logger) *ConsolidationService {
	return &ConsolidationService{
		graph:    graph,
		llm:      llm,
		episodes: episodes,
		logger:   logger,
		interval: defaultSweepInterval,
		sweepAge: defaultSweepAge,
		tenants:  make(map[string]domain.TenantContext),
		stopCh:   make(chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetInterval overrides the sweep cadence. Call before Start.
func (s *ConsolidationService) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// SetSweepAge overrides how old an episode must be before the background
// sweep considers it. Call before Start.
func (s *ConsolidationService) SetSweepAge(d time.Duration) {
	if d > 0 {
		s.sweepAge = d
	}
}

// Track registers a tenant lane for the background sweep. Write paths call
// this so lanes with activity get consolidated without configuration.
func (s *ConsolidationService) Track(t domain.TenantContext) {
	if t.Validate() != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ScopeKey()] = t
}

// Start launches the background sweep loop.
func (s *ConsolidationService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopCh:
				return
			}
		}
	}()
	s.logger.Info("consolidation sweep started", zap.Duration("interval", s.interval))
}

// Stop halts the background loop and waits for an in-flight sweep.
func (s *ConsolidationService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("consolidation sweep stopped")
}

func (s *ConsolidationService) sweep() {
	s.mu.Lock()
	lanes := make([]domain.TenantContext, 0, len(s.tenants))
	for _, t := range s.tenants {
		lanes = append(lanes, t)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	before := s.now().Add(-s.sweepAge)
	for _, tenant := range lanes {
		count, err := s.ConsolidateMemories(ctx, before, tenant)
		if err != nil {
			s.logger.Warn("consolidation sweep failed for lane",
				zap.String("scope", tenant.ScopeKey()), zap.Error(err))
			continue
		}
		if count > 0 {
			s.logger.Info("consolidated episodes",
				zap.String("scope", tenant.ScopeKey()), zap.Int("count", count))
		}
	}
}

// ConsolidateMemories selects non-consolidated episodes older than before
// whose decayed importance fell under the floor, groups them by identical
// type or by 12-hour timestamp windows, and replaces each group of two or
// more with a summary episode. Returns how many episodes were consolidated.
func (s *ConsolidationService) ConsolidateMemories(ctx context.Context, before time.Time, tenant domain.TenantContext) (int, error) {
	if err := tenant.Validate(); err != nil {
		return 0, err
	}

	episodes, err := s.graph.ListEpisodesBefore(ctx, tenant, before, consolidationBatch)
	if err != nil {
		return 0, fmt.Errorf("%w: list episodes: %v", domain.ErrStoreUnavailable, err)
	}

	now := s.now()
	var faded []domain.Episode
	for _, ep := range episodes {
		if ep.Type == domain.EpisodeSummary {
			continue
		}
		days := now.Sub(ep.Timestamp).Hours() / 24
		if domain.DecayedImportance(ep.Importance, ep.DecayRate, days) < decayedImportanceFloor {
			faded = append(faded, ep)
		}
	}
	if len(faded) < 2 {
		return 0, nil
	}

	consolidated := 0
	for _, group := range groupEpisodes(faded) {
		if len(group) < 2 {
			continue
		}
		if err := s.consolidateGroup(ctx, group, tenant); err != nil {
			s.logger.Warn("group consolidation failed", zap.Int("size", len(group)), zap.Error(err))
			continue
		}
		consolidated += len(group)
	}
	return consolidated, nil
}

// groupEpisodes buckets by identical type first, then splits each type
// bucket into 12-hour timestamp windows. Singleton windows rejoin as a
// per-type remainder group so same-type strays still consolidate together.
func groupEpisodes(episodes []domain.Episode) [][]domain.Episode {
	byType := make(map[domain.EpisodeType][]domain.Episode)
	for _, ep := range episodes {
		byType[ep.Type] = append(byType[ep.Type], ep)
	}

	var groups [][]domain.Episode
	for _, bucket := range byType {
		sort.Slice(bucket, func(i, j int) bool {
			return bucket[i].Timestamp.Before(bucket[j].Timestamp)
		})

		var window []domain.Episode
		var strays []domain.Episode
		flush := func() {
			if len(window) >= 2 {
				groups = append(groups, window)
			} else {
				strays = append(strays, window...)
			}
			window = nil
		}
		for _, ep := range bucket {
			if len(window) > 0 && ep.Timestamp.Sub(window[0].Timestamp) > consolidationWindow {
				flush()
			}
			window = append(window, ep)
		}
		flush()
		if len(strays) >= 2 {
			groups = append(groups, strays)
		}
	}
	return groups
}

func (s *ConsolidationService) consolidateGroup(ctx context.Context, group []domain.Episode, tenant domain.TenantContext) error {
	summary := s.summarize(ctx, group)

	systemLane := domain.TenantContext{
		CompanyID: tenant.CompanyID,
		AppID:     tenant.AppID,
		UserID:    domain.SystemUserID,
	}
	res, err := s.episodes.StoreEpisode(ctx, StoreEpisodeRequest{
		Content: summary,
		Type:    domain.EpisodeSummary,
		Metadata: map[string]any{
			"consolidated_count": len(group),
			"source_scope":       tenant.ScopeKey(),
		},
		Tenant: systemLane,
	})
	if err != nil {
		return fmt.Errorf("store summary episode: %w", err)
	}

	ids := make([]uuid.UUID, len(group))
	for i, ep := range group {
		ids[i] = ep.ID
	}
	return s.graph.MarkConsolidated(ctx, ids, res.EpisodeID, tenant)
}

// summarize asks the LLM for a consolidated summary with a hard timeout,
// falling back to truncated concatenation when the call fails.
func (s *ConsolidationService) summarize(ctx context.Context, group []domain.Episode) string {
	contents := make([]string, len(group))
	for i, ep := range group {
		contents[i] = ep.Content
	}

	if s.llm != nil {
		llmCtx, cancel := context.WithTimeout(ctx, summarizeTimeout)
		defer cancel()
		summary, err := s.llm.Summarize(llmCtx, contents)
		if err == nil && strings.TrimSpace(summary) != "" {
			return summary
		}
		s.logger.Warn("llm summary failed, using truncation fallback", zap.Error(err))
	}

	joined := strings.Join(contents, " | ")
	if len(joined) > domain.MaxSummaryLength {
		joined = joined[:domain.MaxSummaryLength]
	}
	return "Consolidated: " + joined
}
