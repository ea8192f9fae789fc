// Package ingest drives the activity feed: it pulls raw transactions from
// the ledger, classifies them into bottle activities, resolves the assets
// they reference, and persists the results behind a resumable checkpoint.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/caskwatch/caskwatch/service/classify"
	"github.com/caskwatch/caskwatch/service/db"
	"github.com/caskwatch/caskwatch/service/ledger"
	"github.com/caskwatch/caskwatch/service/metrics"
	"github.com/caskwatch/caskwatch/service/resolve"
)

// State names the pipeline's position in its cycle. Exposed through the
// stats endpoint.
type State string

const (
	StateIdle        State = "IDLE"
	StateFetching    State = "FETCHING"
	StateClassifying State = "CLASSIFYING"
	StateResolving   State = "RESOLVING"
	StatePersisting  State = "PERSISTING"
	StateError       State = "ERROR"
)

// CycleStats summarizes one ledger ingest cycle. Errors counts records
// excluded from the batch; a failed cycle is reported through the returned
// error and the ERROR state, not this counter.
type CycleStats struct {
	TotalProcessed     int       `json:"total_processed"`
	ParsedMints        int       `json:"parsed_mints"`
	ParsedBurns        int       `json:"parsed_burns"`
	ParsedPurchases    int       `json:"parsed_purchases"`
	InsertedActivities int       `json:"inserted_activities"`
	Errors             int       `json:"errors"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// Status is a snapshot of the pipeline for the stats endpoint.
type Status struct {
	State     State       `json:"state"`
	LastCycle *CycleStats `json:"last_cycle,omitempty"`
	LastError string      `json:"last_error,omitempty"`
}

// LedgerClient fetches raw transaction pages for the watched marketplace.
type LedgerClient interface {
	GetTransactions(ctx context.Context, params ledger.GetTransactionsParams) ([]ledger.RawTransaction, error)
}

// Store is the subset of the database store the pipeline needs.
type Store interface {
	GetActivityTypeMap(ctx context.Context) (map[string]int32, error)
	HighestCommittedSignature(ctx context.Context) (*string, error)
	AdvanceCheckpoint(ctx context.Context) error
	InsertActivityBatch(ctx context.Context, records []db.InsertActivityParams) ([]int64, error)
	ExistingSignatures(ctx context.Context, signatures []string) (map[string]bool, error)
}

// AssetResolver maps an asset address to an internal asset id.
type AssetResolver interface {
	Resolve(ctx context.Context, assetID string, freshnessFloor time.Time) (int64, error)
}

// Pipeline is the ledger ingest state machine. RunCycle executes one full
// fetch/classify/resolve/persist pass; the Temporal workflow calls it on a
// schedule.
type Pipeline struct {
	ledger     LedgerClient
	store      Store
	resolver   AssetResolver
	classifier *classify.Classifier
	metrics    *metrics.Metrics
	logger     *slog.Logger

	pageSize     int
	maxBatchSize int

	mu        sync.RWMutex
	state     State
	lastCycle *CycleStats
	lastError string
}

// NewPipeline creates a Pipeline. pageSize bounds each ledger request;
// maxBatchSize caps how many accepted activities one cycle will persist,
// oldest first, so a long backlog drains across cycles in checkpoint order.
func NewPipeline(ledgerClient LedgerClient, store Store, resolver AssetResolver, classifier *classify.Classifier, m *metrics.Metrics, logger *slog.Logger, pageSize, maxBatchSize int) *Pipeline {
	return &Pipeline{
		ledger:       ledgerClient,
		store:        store,
		resolver:     resolver,
		classifier:   classifier,
		metrics:      m,
		logger:       logger,
		pageSize:     pageSize,
		maxBatchSize: maxBatchSize,
		state:        StateIdle,
	}
}

// Status returns a snapshot of the pipeline state.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	status := Status{State: p.state, LastError: p.lastError}
	if p.lastCycle != nil {
		cycle := *p.lastCycle
		status.LastCycle = &cycle
	}
	return status
}

func (p *Pipeline) setState(state State) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *Pipeline) finishCycle(stats *CycleStats, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCycle = stats
	if err != nil {
		p.state = StateError
		p.lastError = err.Error()
	} else {
		p.state = StateIdle
		p.lastError = ""
	}
}

// RunCycle executes one ingest cycle and returns its stats. On error the
// pipeline enters the ERROR state; the caller decides the cooldown before
// the next attempt.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleStats, error) {
	stats := CycleStats{StartedAt: time.Now().UTC()}
	start := time.Now()

	err := p.runCycle(ctx, &stats)

	stats.FinishedAt = time.Now().UTC()
	status := "success"
	if err != nil {
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.RecordIngestCycle(status, time.Since(start).Seconds())
	}
	p.finishCycle(&stats, err)

	p.logger.InfoContext(ctx, "ingest cycle finished",
		"status", status,
		"total_processed", stats.TotalProcessed,
		"mints", stats.ParsedMints,
		"burns", stats.ParsedBurns,
		"purchases", stats.ParsedPurchases,
		"inserted", stats.InsertedActivities,
		"errors", stats.Errors,
	)
	return stats, err
}

func (p *Pipeline) runCycle(ctx context.Context, stats *CycleStats) error {
	p.setState(StateFetching)
	transactions, err := p.fetchNewTransactions(ctx)
	if err != nil {
		p.recordError("fetch")
		return err
	}
	if len(transactions) == 0 {
		p.logger.DebugContext(ctx, "no new transactions")
		return nil
	}
	stats.TotalProcessed = len(transactions)
	if p.metrics != nil {
		p.metrics.RecordTransactionsFetched(len(transactions))
	}

	p.setState(StateClassifying)
	activities := p.classifyBatch(ctx, transactions, stats)
	if len(activities) == 0 {
		return nil
	}
	activities = p.capAccepted(ctx, activities)

	activities, err = p.dropKnownSignatures(ctx, activities)
	if err != nil {
		p.recordError("dedupe")
		return err
	}
	if len(activities) == 0 {
		p.logger.DebugContext(ctx, "all classified activities already persisted")
		return nil
	}

	p.setState(StateResolving)
	resolved := p.resolveAssets(ctx, activities, stats)
	if len(resolved) == 0 {
		return nil
	}

	p.setState(StatePersisting)
	if err := p.persist(ctx, resolved, stats); err != nil {
		p.recordError("persist")
		return err
	}
	return nil
}

// fetchNewTransactions pages backward from the newest transaction to the
// checkpoint, then returns the batch oldest first.
// Processing oldest first keeps the checkpoint contiguous: everything at
// or before it has been handled.
func (p *Pipeline) fetchNewTransactions(ctx context.Context) ([]ledger.RawTransaction, error) {
	checkpoint, err := p.store.HighestCommittedSignature(ctx)
	if err != nil {
		return nil, err
	}
	until := ""
	if checkpoint != nil {
		until = *checkpoint
	}

	var all []ledger.RawTransaction
	before := ""
	for {
		page, err := p.ledger.GetTransactions(ctx, ledger.GetTransactionsParams{
			Before: before,
			Until:  until,
			Limit:  p.pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch transactions: %w", err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		if len(page) < p.pageSize {
			break
		}
		before = page[len(page)-1].Signature
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp < all[j].Timestamp
	})
	return all, nil
}

func (p *Pipeline) classifyBatch(ctx context.Context, transactions []ledger.RawTransaction, stats *CycleStats) []*classify.Activity {
	var activities []*classify.Activity
	for i := range transactions {
		activity := p.classifier.Classify(&transactions[i])
		if activity == nil {
			continue
		}
		if p.metrics != nil {
			p.metrics.RecordClassification(activity.Kind.String())
		}
		switch activity.Kind {
		case classify.KindMint:
			stats.ParsedMints++
		case classify.KindBurn:
			stats.ParsedBurns++
		case classify.KindPurchase:
			stats.ParsedPurchases++
		}
		activities = append(activities, activity)
	}
	p.logger.DebugContext(ctx, "classified transactions",
		"transactions", len(transactions),
		"activities", len(activities),
	)
	return activities
}

// capAccepted truncates the accepted activities to the maxBatchSize oldest
// by activity date. The records past the cap are newer than anything this
// cycle persists, so the checkpoint stays behind them and the next cycle
// fetches them again.
func (p *Pipeline) capAccepted(ctx context.Context, activities []*classify.Activity) []*classify.Activity {
	if len(activities) <= p.maxBatchSize {
		return activities
	}
	sort.SliceStable(activities, func(i, j int) bool {
		return activities[i].Date.Before(activities[j].Date)
	})
	p.logger.InfoContext(ctx, "capping activity batch",
		"accepted", len(activities),
		"cap", p.maxBatchSize,
	)
	return activities[:p.maxBatchSize]
}

func (p *Pipeline) dropKnownSignatures(ctx context.Context, activities []*classify.Activity) ([]*classify.Activity, error) {
	signatures := make([]string, 0, len(activities))
	for _, a := range activities {
		signatures = append(signatures, a.Signature)
	}
	existing, err := p.store.ExistingSignatures(ctx, signatures)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return activities, nil
	}

	fresh := activities[:0]
	for _, a := range activities {
		if existing[a.Signature] {
			continue
		}
		fresh = append(fresh, a)
	}
	return fresh, nil
}

// resolveAssets resolves each distinct asset once per cycle. The freshness
// floor for an asset is its newest activity date in the batch, so details
// stored before that instant get refreshed before new activity lands on
// them. Every record on an unresolvable asset is dropped and counted as
// an error.
func (p *Pipeline) resolveAssets(ctx context.Context, activities []*classify.Activity, stats *CycleStats) []resolvedActivity {
	floors := make(map[string]time.Time)
	for _, a := range activities {
		if a.Date.After(floors[a.Mint]) {
			floors[a.Mint] = a.Date
		}
	}

	assetIdx := make(map[string]int64, len(floors))
	for mint, floor := range floors {
		idx, err := p.resolver.Resolve(ctx, mint, floor)
		if err != nil {
			p.recordError("resolve")
			if errors.Is(err, resolve.ErrAssetUnresolvable) {
				p.logger.WarnContext(ctx, "excluding activities on unresolvable asset", "asset_id", mint)
			} else {
				p.logger.ErrorContext(ctx, "asset resolution failed", "asset_id", mint, "error", err)
			}
			continue
		}
		assetIdx[mint] = idx
	}

	var resolved []resolvedActivity
	for _, a := range activities {
		idx, ok := assetIdx[a.Mint]
		if !ok {
			stats.Errors++
			continue
		}
		resolved = append(resolved, resolvedActivity{activity: a, assetIdx: idx})
	}
	return resolved
}

type resolvedActivity struct {
	activity *classify.Activity
	assetIdx int64
}

func (p *Pipeline) persist(ctx context.Context, resolved []resolvedActivity, stats *CycleStats) error {
	typeMap, err := p.store.GetActivityTypeMap(ctx)
	if err != nil {
		return err
	}

	records := make([]db.InsertActivityParams, 0, len(resolved))
	for _, r := range resolved {
		typeIdx, ok := typeMap[r.activity.Kind.String()]
		if !ok {
			return fmt.Errorf("unknown activity type %q", r.activity.Kind.String())
		}
		signature := r.activity.Signature
		var price *float64
		if r.activity.Price != nil {
			v := float64(*r.activity.Price)
			price = &v
		}
		records = append(records, db.InsertActivityParams{
			ActivityTypeIdx: typeIdx,
			AssetIdx:        r.assetIdx,
			Price:           price,
			ActivityDate:    r.activity.Date,
			Signature:       &signature,
			FromAccount:     r.activity.FromAccount,
			ToAccount:       r.activity.ToAccount,
		})
	}

	ids, err := p.store.InsertActivityBatch(ctx, records)
	if err != nil {
		return fmt.Errorf("failed to insert activity batch: %w", err)
	}
	stats.InsertedActivities = len(ids)
	if p.metrics != nil {
		p.metrics.RecordActivitiesInserted("ledger", len(ids))
	}

	if len(ids) > 0 {
		if err := p.store.AdvanceCheckpoint(ctx); err != nil {
			return fmt.Errorf("failed to advance checkpoint: %w", err)
		}
		if p.metrics != nil {
			p.metrics.RecordCheckpointAdvance()
		}
	}
	return nil
}

func (p *Pipeline) recordError(stage string) {
	if p.metrics != nil {
		p.metrics.RecordIngestError(stage)
	}
}
