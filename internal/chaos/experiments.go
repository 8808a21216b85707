package chaos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dezod123/bar-scan-platform/internal/catalog"
	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/dezod123/bar-scan-platform/internal/scans"
	"github.com/google/uuid"
)

// Params sizes the predefined experiments.
type Params struct {
	Concurrency int
	// Observe is the observation window of every experiment.
	Observe time.Duration
	// Hold is how long the pool pressure experiment keeps connections.
	Hold time.Duration
}

// DefaultParams are used by the chaos command.
var DefaultParams = Params{
	Concurrency: 50,
	Observe:     5 * time.Second,
	Hold:        2 * time.Second,
}

// RegisterExperiments registers all predefined chaos experiments with the engine.
func (e *Engine) RegisterExperiments(p Params) {
	if p.Concurrency <= 0 {
		p.Concurrency = DefaultParams.Concurrency
	}
	e.RegisterExperiment(e.AllocationRaceExperiment(p.Concurrency, p.Observe))
	e.RegisterExperiment(e.ScanBurstExperiment(p.Concurrency, p.Observe))
	e.RegisterExperiment(e.DispositionRaceExperiment(p.Concurrency, p.Observe))
	e.RegisterExperiment(e.PoolPressureExperiment(p.Concurrency/5+1, p.Hold, p.Observe))
}

// counters collects outcomes of concurrent calls.
type counters struct {
	mu     sync.Mutex
	values map[string]float64
}

func newCounters() *counters {
	return &counters{values: map[string]float64{}}
}

func (c *counters) add(name string, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] += delta
}

func (c *counters) metric(name string) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.values[name], nil
	}
}

func (e *Engine) duplicateCodes(ctx context.Context) (float64, error) {
	var n int
	err := e.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT code_value, code_category
			FROM catalog_entries
			GROUP BY code_value, code_category
			HAVING COUNT(*) > 1
		) dup
	`).Scan(&n)
	return float64(n), err
}

func (e *Engine) probe(ctx context.Context, experiment string, category codes.Category) (*catalog.Entry, error) {
	return e.catalog.Allocate(ctx, "chaos probe "+experiment, category)
}

// AllocationRaceExperiment fires concurrent allocations at one category and
// checks that the issued suffixes are distinct and gapless.
func (e *Engine) AllocationRaceExperiment(concurrency int, observe time.Duration) Experiment {
	c := newCounters()
	var (
		mu       sync.Mutex
		suffixes []int64
	)

	return Experiment{
		Name:       "concurrent-allocation-race",
		Hypothesis: "Concurrent allocations in one category never issue the same code and leave no gaps",
		SteadyState: []Metric{
			{Name: "duplicate_codes", Query: e.duplicateCodes, Threshold: Threshold{Operator: "==", Value: 0}},
			{Name: "allocation_failures", Query: c.metric("allocation_failures"), Threshold: Threshold{Operator: "==", Value: 0}},
			{Name: "sequence_gaps", Query: c.metric("sequence_gaps"), Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "allocator",
				Execute: func(ctx context.Context) error {
					var wg sync.WaitGroup
					for i := 0; i < concurrency; i++ {
						wg.Add(1)
						go func() {
							defer wg.Done()
							entry, err := e.probe(ctx, "allocation", codes.CategoryBarcode)
							if err != nil {
								c.add("allocation_failures", 1)
								return
							}
							if n, ok := codes.ParseSuffix(entry.CodeValue); ok {
								mu.Lock()
								suffixes = append(suffixes, n)
								mu.Unlock()
							}
						}()
					}
					wg.Wait()

					mu.Lock()
					defer mu.Unlock()
					sort.Slice(suffixes, func(i, j int) bool { return suffixes[i] < suffixes[j] })
					for i := 1; i < len(suffixes); i++ {
						if suffixes[i] != suffixes[i-1]+1 {
							c.add("sequence_gaps", 1)
						}
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			{Metric: "duplicate_codes", Condition: func(v float64) bool { return v == 0 }, Message: "No code may be assigned twice"},
			{Metric: "allocation_failures", Condition: func(v float64) bool { return v == 0 }, Message: "Every allocation should succeed"},
			{Metric: "sequence_gaps", Condition: func(v float64) bool { return v == 0 }, Message: "Issued suffixes should be consecutive"},
		},
		Duration: observe,
	}
}

// ScanBurstExperiment reads one code many times at once and checks that the
// burst collapses into a single scan event.
func (e *Engine) ScanBurstExperiment(burst int, observe time.Duration) Experiment {
	c := newCounters()
	var probe *catalog.Entry

	storedEvents := func(ctx context.Context) (float64, error) {
		if probe == nil {
			return 0, nil
		}
		var n int
		err := e.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM scan_events WHERE code_value = ? AND code_category = ?
		`, probe.CodeValue, string(probe.CodeCategory)).Scan(&n)
		return float64(n), err
	}

	return Experiment{
		Name:       "scan-burst-dedupe",
		Hypothesis: "A burst of reads of one code inside the cooldown window records exactly one scan event",
		SteadyState: []Metric{
			{Name: "stored_events", Query: storedEvents, Threshold: Threshold{Operator: "<=", Value: 1}},
			{Name: "fresh_results", Query: c.metric("fresh_results"), Threshold: Threshold{Operator: "<=", Value: 1}},
			{Name: "scan_failures", Query: c.metric("scan_failures"), Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Method: []Action{
			{
				Type:   "burst",
				Target: "scan-recorder",
				Execute: func(ctx context.Context) error {
					entry, err := e.probe(ctx, "scan-burst", codes.CategoryQR)
					if err != nil {
						return fmt.Errorf("allocate probe: %w", err)
					}
					probe = entry

					var wg sync.WaitGroup
					for i := 0; i < burst; i++ {
						wg.Add(1)
						go func() {
							defer wg.Done()
							result, err := e.scans.RecordScan(ctx, entry.CodeValue, entry.CodeCategory, time.Minute)
							switch {
							case err != nil:
								c.add("scan_failures", 1)
							case !result.WasDuplicate:
								c.add("fresh_results", 1)
							}
						}()
					}
					wg.Wait()
					return nil
				},
			},
		},
		Validation: []Assertion{
			{Metric: "stored_events", Condition: func(v float64) bool { return v == 1 }, Message: "Exactly one scan event should be stored"},
			{Metric: "fresh_results", Condition: func(v float64) bool { return v == 1 }, Message: "Exactly one caller should see a new event"},
			{Metric: "scan_failures", Condition: func(v float64) bool { return v == 0 }, Message: "No scan in the burst should fail"},
		},
		Duration: observe,
	}
}

// DispositionRaceExperiment races transitions on one fresh scan and checks
// that exactly one wins.
func (e *Engine) DispositionRaceExperiment(contenders int, observe time.Duration) Experiment {
	c := newCounters()

	return Experiment{
		Name:       "disposition-race",
		Hypothesis: "Concurrent disposition requests on one scan produce exactly one winner",
		SteadyState: []Metric{
			{Name: "winners", Query: c.metric("winners"), Threshold: Threshold{Operator: "<=", Value: 1}},
			{Name: "unexpected_errors", Query: c.metric("unexpected_errors"), Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "disposition-state-machine",
				Execute: func(ctx context.Context) error {
					entry, err := e.probe(ctx, "disposition", codes.CategoryBarcode)
					if err != nil {
						return fmt.Errorf("allocate probe: %w", err)
					}
					recorded, err := e.scans.RecordScan(ctx, entry.CodeValue, entry.CodeCategory, scans.DefaultCooldown)
					if err != nil {
						return fmt.Errorf("record probe scan: %w", err)
					}

					var wg sync.WaitGroup
					for i := 0; i < contenders; i++ {
						target := scans.DispositionDeploy
						if i%2 == 1 {
							target = scans.DispositionReturn
						}
						wg.Add(1)
						go func(id uuid.UUID, target scans.Disposition) {
							defer wg.Done()
							_, err := e.scans.UpdateDisposition(ctx, id, target)
							switch {
							case err == nil:
								c.add("winners", 1)
							case errors.Is(err, scans.ErrInvalidTransition):
							default:
								c.add("unexpected_errors", 1)
							}
						}(recorded.Scan.ID, target)
					}
					wg.Wait()
					return nil
				},
			},
		},
		Validation: []Assertion{
			{Metric: "winners", Condition: func(v float64) bool { return v == 1 }, Message: "Exactly one transition should succeed"},
			{Metric: "unexpected_errors", Condition: func(v float64) bool { return v == 0 }, Message: "Losers should only see InvalidTransition"},
		},
		Duration: observe,
	}
}

// PoolPressureExperiment holds connections out of the pool while
// allocations are issued, and checks that they complete once the pressure
// lifts.
func (e *Engine) PoolPressureExperiment(requests int, hold, observe time.Duration) Experiment {
	c := newCounters()
	var (
		releaseOnce sync.Once
		release     = func() {}
	)

	return Experiment{
		Name:       "database-connection-pool-pressure",
		Hypothesis: "Allocations wait out connection pool exhaustion instead of failing",
		SteadyState: []Metric{
			{Name: "error_rate", Query: func(context.Context) (float64, error) {
				c.mu.Lock()
				defer c.mu.Unlock()
				total := c.values["attempts"]
				if total == 0 {
					return 0, nil
				}
				return c.values["failures"] / total * 100, nil
			}, Threshold: Threshold{Operator: "<", Value: 1}},
			{Name: "duplicate_codes", Query: e.duplicateCodes, Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Method: []Action{
			{
				Type:   "exhaust-connections",
				Target: "connection-pool",
				Execute: func(ctx context.Context) error {
					held := e.exhaustPool(ctx, 64)
					release = func() {
						releaseOnce.Do(func() {
							for _, conn := range held {
								conn.Close()
							}
						})
					}
					timer := time.AfterFunc(hold, release)
					defer timer.Stop()

					var wg sync.WaitGroup
					for i := 0; i < requests; i++ {
						wg.Add(1)
						go func() {
							defer wg.Done()
							reqCtx, cancel := context.WithTimeout(ctx, hold+30*time.Second)
							defer cancel()
							c.add("attempts", 1)
							if _, err := e.probe(reqCtx, "pool-pressure", codes.CategoryQR); err != nil {
								c.add("failures", 1)
							}
						}()
					}
					wg.Wait()
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "release-connections",
				Target: "connection-pool",
				Execute: func(context.Context) error {
					release()
					return nil
				},
			},
		},
		Validation: []Assertion{
			{Metric: "error_rate", Condition: func(v float64) bool { return v < 1 }, Message: "Allocations should not fail under pool pressure"},
			{Metric: "duplicate_codes", Condition: func(v float64) bool { return v == 0 }, Message: "No code may be assigned twice"},
		},
		Duration: observe,
	}
}

// exhaustPool checks out up to max connections, stopping at the first one
// the pool cannot hand out promptly.
func (e *Engine) exhaustPool(ctx context.Context, max int) []*sql.Conn {
	var conns []*sql.Conn
	for i := 0; i < max; i++ {
		acquireCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		conn, err := e.db.SQL().Conn(acquireCtx)
		cancel()
		if err != nil {
			break
		}
		conns = append(conns, conn)
	}
	e.logger.Debug("connection pool exhausted", "held", len(conns))
	return conns
}
