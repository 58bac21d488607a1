package twap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tranche/internal/events"
	"tranche/internal/logger"
	"tranche/internal/order"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultInterval = 30 * time.Second
	// reconcileInterval paces the settle loop's re-read of child order
	// state from the store, covering status events lost to a full bus
	// buffer.
	reconcileInterval = 2 * time.Second
)

// Journal mirrors plan records for audit; failures are logged only.
type Journal interface {
	RecordPlan(ctx context.Context, p Plan) error
}

// Scheduler runs TWAP plans. Each plan gets its own goroutine that
// wakes at (never before) every slice's scheduled time, submits the
// slice, and then tracks child orders through status events until all
// slices reach a terminal state.
type Scheduler struct {
	submitter       *order.Submitter
	store           *order.Store
	bus             *events.Bus
	journal         Journal
	defaultInterval time.Duration
	reconcileEvery  time.Duration

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	mu             sync.Mutex
	plan           *Plan
	cancel         context.CancelFunc
	cancelInFlight bool
	orderSlice     map[string]int // child order id -> slice index
}

func NewScheduler(submitter *order.Submitter, store *order.Store, bus *events.Bus, journal Journal, defaultInterval time.Duration) *Scheduler {
	if defaultInterval <= 0 {
		defaultInterval = DefaultInterval
	}
	return &Scheduler{
		submitter:       submitter,
		store:           store,
		bus:             bus,
		journal:         journal,
		defaultInterval: defaultInterval,
		reconcileEvery:  reconcileInterval,
		runs:            make(map[string]*run),
	}
}

// Start validates the request, builds the slice schedule and launches
// the plan. The first slice is due immediately. ctx scopes only the
// synchronous build phase: the run itself is detached so a plan started
// from an HTTP handler survives the request; it stops via Cancel or
// Shutdown.
func (s *Scheduler) Start(ctx context.Context, req Request) (Plan, error) {
	req, err := req.normalized(s.defaultInterval)
	if err != nil {
		return Plan{}, err
	}
	plan, err := buildPlan(uuid.NewString(), req, time.Now())
	if err != nil {
		return Plan{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		plan:       plan,
		cancel:     cancel,
		orderSlice: make(map[string]int),
	}
	s.mu.Lock()
	s.runs[plan.ID] = r
	s.mu.Unlock()

	s.record(*plan)
	logger.Infof("twap: plan %s started %s %s total=%s slices=%d interval=%s",
		plan.ID, plan.Side, plan.Symbol, plan.TotalQuantity, len(plan.Slices), plan.Interval)

	// Subscribe before the run loop starts so no fill event can slip
	// between the first submission and the first receive.
	ch, unsub := s.bus.Subscribe(256)
	go s.execute(runCtx, r, ch, unsub)

	return s.snapshot(r), nil
}

// Cancel aborts a running plan: pending slices become SKIPPED,
// submitted slices resolve naturally unless cancelInFlight asks for
// their child orders to be cancelled too. Cancelling a finished plan
// is a no-op.
func (s *Scheduler) Cancel(planID string, cancelInFlight bool) error {
	s.mu.Lock()
	r, ok := s.runs[planID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("twap: plan %s not found", planID)
	}
	r.mu.Lock()
	if r.plan.Status.Terminal() {
		r.mu.Unlock()
		logger.Warnf("twap: cancel on %s plan %s (no-op)", r.plan.Status, planID)
		return nil
	}
	r.cancelInFlight = cancelInFlight
	r.mu.Unlock()
	r.cancel()
	return nil
}

// Plan returns a snapshot of one plan.
func (s *Scheduler) Plan(planID string) (Plan, bool) {
	s.mu.Lock()
	r, ok := s.runs[planID]
	s.mu.Unlock()
	if !ok {
		return Plan{}, false
	}
	return s.snapshot(r), true
}

// Plans returns snapshots of all known plans.
func (s *Scheduler) Plans() []Plan {
	s.mu.Lock()
	runs := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.Unlock()
	out := make([]Plan, 0, len(runs))
	for _, r := range runs {
		out = append(out, s.snapshot(r))
	}
	return out
}

func (s *Scheduler) execute(ctx context.Context, r *run, ch <-chan events.Event, unsub func()) {
	defer unsub()

	for i := range r.plan.Slices {
		r.mu.Lock()
		due := r.plan.Slices[i].ScheduledAt
		r.mu.Unlock()

		// Wake at or after the scheduled time, never early; keep
		// consuming fill events for earlier slices while waiting.
		for {
			now := time.Now()
			if !now.Before(due) {
				break
			}
			timer := time.NewTimer(due.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				s.abort(r)
				return
			case ev := <-ch:
				timer.Stop()
				s.applyEvent(r, ev)
			case <-timer.C:
			}
			if ctx.Err() != nil {
				s.abort(r)
				return
			}
		}
		if ctx.Err() != nil {
			s.abort(r)
			return
		}
		s.submitSlice(ctx, r, i)
	}

	// All slices dispatched; wait for submitted ones to resolve. The
	// ticker re-reads child state from the store because a bus event
	// dropped on a full buffer is never re-published.
	ticker := time.NewTicker(s.reconcileEvery)
	defer ticker.Stop()
	for !s.settled(r) {
		select {
		case <-ctx.Done():
			s.abort(r)
			return
		case ev := <-ch:
			s.applyEvent(r, ev)
		case <-ticker.C:
			s.reconcile(r)
		}
	}
	s.finalize(r)
}

// reconcile resolves submitted slices straight from the store, covering
// fills and cancels whose status events were dropped.
func (s *Scheduler) reconcile(r *run) {
	type transition struct {
		index  int
		status SliceStatus
	}
	r.mu.Lock()
	var changes []transition
	for i := range r.plan.Slices {
		sl := &r.plan.Slices[i]
		if sl.Status != SliceSubmitted || sl.OrderID == "" {
			continue
		}
		o, err := s.store.Get(sl.OrderID)
		if err != nil || !o.Status.Terminal() {
			continue
		}
		if o.Status == order.StatusFilled {
			sl.Status = SliceFilled
		} else {
			sl.Status = SliceFailed
			sl.Note = "child order " + string(o.Status)
		}
		changes = append(changes, transition{index: i, status: sl.Status})
	}
	if len(changes) == 0 {
		r.mu.Unlock()
		return
	}
	planID := r.plan.ID
	snapshot := clonePlan(r.plan)
	r.mu.Unlock()

	for _, tr := range changes {
		logger.Infof("twap: plan %s slice %d settled by store read status=%s", planID, tr.index, tr.status)
		s.publishSlice(planID, tr.index, tr.status)
	}
	s.record(snapshot)
}

// Shutdown aborts every running plan; in-flight child orders are left
// to resolve on the exchange.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	runs := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.Unlock()
	for _, r := range runs {
		r.cancel()
	}
}

func (s *Scheduler) submitSlice(ctx context.Context, r *run, i int) {
	r.mu.Lock()
	plan := r.plan
	sl := &plan.Slices[i]
	spec := order.Spec{
		Symbol:   plan.Symbol,
		Side:     plan.Side,
		Kind:     plan.Kind,
		Quantity: sl.Quantity,
		Price:    plan.LimitPrice,
	}
	r.mu.Unlock()

	o, err := s.submitter.Submit(ctx, spec)
	r.mu.Lock()
	switch {
	case err != nil:
		// Retries exhausted or invalid: this slice is done, the plan
		// continues with the rest.
		sl.Status = SliceFailed
		sl.Note = err.Error()
		if o.ID != "" {
			sl.OrderID = o.ID
		}
		logger.Errorf("twap: plan %s slice %d failed: %v", plan.ID, i, err)
	case o.Status == order.StatusRejected:
		sl.Status = SliceFailed
		sl.OrderID = o.ID
		sl.Note = o.RejectReason
		logger.Warnf("twap: plan %s slice %d rejected: %s", plan.ID, i, o.RejectReason)
	case o.Status == order.StatusFilled:
		sl.Status = SliceFilled
		sl.OrderID = o.ID
	default:
		sl.Status = SliceSubmitted
		sl.OrderID = o.ID
		r.orderSlice[o.ID] = i
		logger.Infof("twap: plan %s slice %d submitted order=%s qty=%s", plan.ID, i, o.ID, sl.Quantity)
	}
	status := sl.Status
	snapshot := clonePlan(plan)
	r.mu.Unlock()

	if status.Terminal() {
		s.publishSlice(snapshot.ID, i, status)
	}
	s.record(snapshot)
}

func (s *Scheduler) applyEvent(r *run, ev events.Event) {
	if ev.Kind != events.KindOrderStatusChanged {
		return
	}
	r.mu.Lock()
	i, ok := r.orderSlice[ev.OrderID]
	if !ok {
		r.mu.Unlock()
		return
	}
	sl := &r.plan.Slices[i]
	if sl.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	switch order.Status(ev.NewStatus) {
	case order.StatusFilled:
		sl.Status = SliceFilled
	case order.StatusCancelled, order.StatusRejected, order.StatusExpired:
		sl.Status = SliceFailed
		sl.Note = "child order " + ev.NewStatus
	default:
		r.mu.Unlock()
		return
	}
	status := sl.Status
	planID := r.plan.ID
	snapshot := clonePlan(r.plan)
	r.mu.Unlock()

	s.publishSlice(planID, i, status)
	s.record(snapshot)
}

// settled reports whether every slice reached a terminal state.
func (s *Scheduler) settled(r *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.plan.Slices {
		if !r.plan.Slices[i].Status.Terminal() {
			return false
		}
	}
	return true
}

// abort handles external cancellation: pending slices are skipped,
// submitted slices stay tracked to their natural terminal state (the
// store and poller keep following their child orders).
func (s *Scheduler) abort(r *run) {
	r.mu.Lock()
	plan := r.plan
	if plan.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	var skipped, inflight []int
	for i := range plan.Slices {
		switch plan.Slices[i].Status {
		case SliceScheduled:
			plan.Slices[i].Status = SliceSkipped
			skipped = append(skipped, i)
		case SliceSubmitted:
			inflight = append(inflight, i)
		}
	}
	plan.Status = PlanAborted
	plan.FinishedAt = time.Now()
	plan.Summary = s.summarize(plan)
	cancelInFlight := r.cancelInFlight
	snapshot := clonePlan(plan)
	r.mu.Unlock()

	for _, i := range skipped {
		s.publishSlice(snapshot.ID, i, SliceSkipped)
	}
	if cancelInFlight && len(inflight) > 0 {
		// The run ctx is already done; give the cancels their own
		// bounded context.
		cctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		for _, i := range inflight {
			if _, err := s.submitter.Cancel(cctx, snapshot.Slices[i].OrderID); err != nil {
				logger.Warnf("twap: plan %s cancel of in-flight slice %d failed: %v", snapshot.ID, i, err)
			}
		}
		cancel()
	}
	logger.Infof("twap: plan %s aborted, %d slices skipped, %d in flight", snapshot.ID, len(skipped), len(inflight))
	s.finish(snapshot)
}

func (s *Scheduler) finalize(r *run) {
	r.mu.Lock()
	plan := r.plan
	if plan.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	failed := 0
	for i := range plan.Slices {
		if plan.Slices[i].Status == SliceFailed {
			failed++
		}
	}
	if failed == len(plan.Slices) {
		plan.Status = PlanFailed
	} else {
		plan.Status = PlanCompleted
	}
	plan.FinishedAt = time.Now()
	plan.Summary = s.summarize(plan)
	snapshot := clonePlan(plan)
	r.mu.Unlock()

	logger.Infof("twap: plan %s finished status=%s %s", snapshot.ID, snapshot.Status, snapshot.Summary)
	s.finish(snapshot)
}

// summarize builds the partial-fill summary. Caller holds r.mu.
func (s *Scheduler) summarize(plan *Plan) string {
	var filled, failed, skipped, pending int
	filledQty := decimal.Zero
	for i := range plan.Slices {
		sl := plan.Slices[i]
		switch sl.Status {
		case SliceFilled:
			filled++
		case SliceFailed:
			failed++
		case SliceSkipped:
			skipped++
		default:
			pending++
		}
		if sl.OrderID != "" {
			if o, err := s.store.Get(sl.OrderID); err == nil {
				filledQty = filledQty.Add(o.FilledQuantity)
			}
		}
	}
	return fmt.Sprintf("filled=%d failed=%d skipped=%d pending=%d filled_qty=%s/%s",
		filled, failed, skipped, pending, filledQty, plan.TotalQuantity)
}

func (s *Scheduler) finish(snapshot Plan) {
	s.record(snapshot)
	s.bus.Publish(events.Event{
		Kind:    events.KindTWAPPlanCompleted,
		PlanID:  snapshot.ID,
		Outcome: string(snapshot.Status),
		Summary: snapshot.Summary,
	})
}

func (s *Scheduler) publishSlice(planID string, index int, status SliceStatus) {
	s.bus.Publish(events.Event{
		Kind:       events.KindTWAPSliceResult,
		PlanID:     planID,
		SliceIndex: index,
		Outcome:    string(status),
	})
}

func (s *Scheduler) snapshot(r *run) Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clonePlan(r.plan)
}

// clonePlan deep-copies a plan. Caller holds the run lock.
func clonePlan(p *Plan) Plan {
	out := *p
	out.Slices = append([]Slice(nil), p.Slices...)
	return out
}

func (s *Scheduler) record(p Plan) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.journal.RecordPlan(ctx, p); err != nil {
		logger.Warnf("twap: journal write failed plan=%s err=%v", p.ID, err)
	}
}
