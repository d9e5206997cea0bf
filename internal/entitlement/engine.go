// Package entitlement gates usage-limited actions by subscription plan and
// accounts for usage once an action succeeds.
package entitlement

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/earmark/internal/model"
	"github.com/dukerupert/earmark/internal/store"
)

// billingPeriod approximates one paid period; there is no partial-period logic.
const billingPeriod = 30 * 24 * time.Hour

// Decision is the outcome of a limit check. Reason is suitable for display.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Persister is the durable storage the engine mirrors its state to.
type Persister interface {
	Load(key string, v any) (bool, error)
	Save(key string, v any) error
}

type Option func(*Engine)

// WithClock replaces time.Now. Day keys are computed from the clock's location.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithCatalog(c Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// Engine holds the current plan, its limits, and accumulated usage. All
// check-and-commit operations run under one mutex.
type Engine struct {
	mu      sync.Mutex
	state   model.SubscriptionState
	catalog Catalog
	store   Persister
	now     func() time.Time
	logger  *slog.Logger
}

// New creates an engine on the free plan. store may be nil for a purely
// in-memory engine.
func New(store Persister, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		catalog: DefaultCatalog,
		store:   store,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state = e.freshState()
	return e
}

func (e *Engine) freshState() model.SubscriptionState {
	limits, _ := e.catalog.Limits(model.PlanFree)
	return model.SubscriptionState{
		Plan:       model.PlanFree,
		IsActive:   true,
		Limits:     limits,
		DailyUsage: []model.UsageRecord{},
	}
}

// Load restores persisted state. Absent state leaves the fresh free plan in place.
func (e *Engine) Load() error {
	if e.store == nil {
		return nil
	}
	var st model.SubscriptionState
	found, err := e.store.Load(store.KeySubscription, &st)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if !found {
		return nil
	}
	if !st.Plan.Valid() {
		return fmt.Errorf("load subscription: unknown plan %q", st.Plan)
	}
	if st.DailyUsage == nil {
		st.DailyUsage = []model.UsageRecord{}
	}

	e.mu.Lock()
	e.state = st
	e.mu.Unlock()
	return nil
}

// persist mirrors the state to durable storage. Caller holds e.mu.
func (e *Engine) persist() {
	if e.store == nil {
		return
	}
	if err := e.store.Save(store.KeySubscription, cloneState(e.state)); err != nil {
		e.logger.Error("persist subscription", "error", err)
	}
}

func (e *Engine) todayKey() string {
	return model.DateKey(e.now())
}

// usageIndex returns the index of date's record, or -1. Caller holds e.mu.
func (e *Engine) usageIndex(date string) int {
	for i, u := range e.state.DailyUsage {
		if u.Date == date {
			return i
		}
	}
	return -1
}

func (e *Engine) todayUsageLocked() model.UsageRecord {
	today := e.todayKey()
	if i := e.usageIndex(today); i >= 0 {
		return e.state.DailyUsage[i]
	}
	return model.UsageRecord{Date: today}
}

// State returns a copy of the current subscription state.
func (e *Engine) State() model.SubscriptionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneState(e.state)
}

// TodayUsage returns today's usage, or a zero record for today. It never mutates.
func (e *Engine) TodayUsage() model.UsageRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.todayUsageLocked()
}

func (e *Engine) CanRecord() Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canRecordLocked()
}

func (e *Engine) canRecordLocked() Decision {
	limit := e.state.Limits.DailyRecordings
	if limit == model.Unlimited {
		return allow()
	}
	if e.todayUsageLocked().RecordingsCount >= limit {
		return deny("You've reached your daily limit of %d recordings. Upgrade to record more.", limit)
	}
	return allow()
}

// RecordUsage re-checks the daily count and the per-recording duration limit,
// then counts one recording of the given length against today. It returns
// false without mutating anything when either limit would be violated.
func (e *Engine) RecordUsage(durationSeconds int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if durationSeconds < 0 {
		return false
	}
	if !e.canRecordLocked().Allowed {
		return false
	}
	if max := e.state.Limits.MaxRecordingDuration; max != model.Unlimited && durationSeconds > max {
		return false
	}

	today := e.todayKey()
	if i := e.usageIndex(today); i >= 0 {
		e.state.DailyUsage[i].RecordingsCount++
		e.state.DailyUsage[i].RecordingDuration += durationSeconds
	} else {
		e.state.DailyUsage = append(e.state.DailyUsage, model.UsageRecord{
			Date:              today,
			RecordingsCount:   1,
			RecordingDuration: durationSeconds,
		})
	}
	e.persist()
	return true
}

// MaxRecordingDuration returns the current per-recording ceiling in seconds.
func (e *Engine) MaxRecordingDuration() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Limits.MaxRecordingDuration
}

func (e *Engine) CanAddDocument() Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canAddDocumentLocked()
}

func (e *Engine) canAddDocumentLocked() Decision {
	max := e.state.Limits.MaxDocuments
	if max != model.Unlimited && e.state.TotalDocuments >= max {
		return deny("Your plan allows %d document(s). Upgrade to add more.", max)
	}
	return allow()
}

func (e *Engine) AddDocumentUsage() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.canAddDocumentLocked().Allowed {
		return false
	}
	e.state.TotalDocuments++
	e.persist()
	return true
}

// RemoveDocumentUsage frees a document slot on paid plans. On the free plan
// the counter never decreases: deleting a document does not free its slot.
func (e *Engine) RemoveDocumentUsage() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Plan == model.PlanFree {
		return
	}
	if e.state.TotalDocuments > 0 {
		e.state.TotalDocuments--
	}
	e.persist()
}

func (e *Engine) projectIndex(itemID string) int {
	for i, p := range e.state.ChatProjects {
		if p.ItemID == itemID {
			return i
		}
	}
	return -1
}

// CanUseAIChat reports whether itemID may be discussed. Bounded plans lock in
// up to AIChatProjects distinct items.
func (e *Engine) CanUseAIChat(itemID string) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canUseAIChatLocked(itemID)
}

func (e *Engine) canUseAIChatLocked(itemID string) Decision {
	slots := e.state.Limits.AIChatProjects
	switch {
	case slots == model.Unlimited:
		return allow()
	case slots <= 0:
		return deny("AI chat is not available on your plan.")
	case e.projectIndex(itemID) >= 0:
		return allow()
	case len(e.state.ChatProjects) < slots:
		return allow()
	}
	if slots == 1 {
		return deny("Your plan includes AI chat for one item. Upgrade to chat about more recordings and documents.")
	}
	return deny("Your plan includes AI chat for %d items. Upgrade to chat about more.", slots)
}

// SetChatProject locks itemID into a free chat slot. It returns true when the
// item is allowed (assigning it if it was not yet locked in) and false when
// every slot is held by other items.
func (e *Engine) SetChatProject(itemID string, itemType model.ItemType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.canUseAIChatLocked(itemID).Allowed {
		return false
	}
	if e.state.Limits.AIChatProjects == model.Unlimited || e.projectIndex(itemID) >= 0 {
		return true
	}
	e.state.ChatProjects = append(e.state.ChatProjects, model.ChatProject{ItemID: itemID, ItemType: itemType})
	e.persist()
	return true
}

func (e *Engine) CanExport(format string) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.Limits.AllowsExport(format) {
		return deny("Export as %s is not available on your plan.", format)
	}
	return allow()
}

// UpgradePlan switches to plan, replacing limits wholesale. Usage is kept.
func (e *Engine) UpgradePlan(plan model.Plan) error {
	limits, ok := e.catalog.Limits(plan)
	if !ok {
		return fmt.Errorf("upgrade plan: unknown plan %q", plan)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.state.Plan
	e.state.Plan = plan
	e.state.Limits = limits
	e.state.IsActive = true
	e.state.ExpiresAt = nil
	if plan != model.PlanFree {
		exp := e.now().Add(billingPeriod)
		e.state.ExpiresAt = &exp
	}
	e.persist()

	e.logger.Info("plan changed", "from", from, "to", plan)
	return nil
}

// CancelSubscription drops back to the free plan and resets all usage.
func (e *Engine) CancelSubscription() {
	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.state.Plan
	limits, _ := e.catalog.Limits(model.PlanFree)
	e.state = model.SubscriptionState{
		Plan:              model.PlanFree,
		IsActive:          false,
		Limits:            limits,
		DailyUsage:        []model.UsageRecord{},
		LastUpgradePrompt: e.state.LastUpgradePrompt,
	}
	e.persist()

	e.logger.Info("subscription cancelled", "from", from)
}

// MarkUpgradePrompted records that an upgrade prompt was shown.
func (e *Engine) MarkUpgradePrompted() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.state.LastUpgradePrompt = &now
	e.persist()
}

// ShouldPromptUpgrade reports whether a free user has not been prompted within minInterval.
func (e *Engine) ShouldPromptUpgrade(minInterval time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Plan != model.PlanFree {
		return false
	}
	last := e.state.LastUpgradePrompt
	return last == nil || e.now().Sub(*last) >= minInterval
}

func cloneState(s model.SubscriptionState) model.SubscriptionState {
	c := s
	c.Limits = s.Limits.Clone()
	c.DailyUsage = append([]model.UsageRecord{}, s.DailyUsage...)
	c.ChatProjects = append([]model.ChatProject(nil), s.ChatProjects...)
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		c.ExpiresAt = &t
	}
	if s.LastUpgradePrompt != nil {
		t := *s.LastUpgradePrompt
		c.LastUpgradePrompt = &t
	}
	return c
}
