package cost

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/metrics"
)

// State is the budget circuit breaker state.
type State int

const (
	// StateNormal means spend is below the warning threshold.
	StateNormal State = iota
	// StateWarning means spend is at or above warning but below halt.
	StateWarning
	// StateHalted means spend is at or above the halt threshold.
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateWarning:
		return "warning"
	case StateHalted:
		return "halted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Default thresholds as fractions of the monthly limit.
const (
	DefaultWarningThreshold = 0.90
	DefaultHaltThreshold    = 0.95
)

// BudgetConfig configures a Breaker.
type BudgetConfig struct {
	MonthlyLimit     decimal.Decimal
	WarningThreshold float64
	HaltThreshold    float64
}

// DefaultBudgetConfig returns $50 with 90%/95% thresholds.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MonthlyLimit:     DefaultMonthlyBudget,
		WarningThreshold: DefaultWarningThreshold,
		HaltThreshold:    DefaultHaltThreshold,
	}
}

// Validate checks the limit and that both thresholds lie in (0, 1].
func (c BudgetConfig) Validate() error {
	if !c.MonthlyLimit.IsPositive() {
		return fmt.Errorf("monthly budget must be positive, got %s", c.MonthlyLimit)
	}
	if c.WarningThreshold <= 0 || c.WarningThreshold > 1 {
		return fmt.Errorf("warning threshold must be in (0, 1], got %v", c.WarningThreshold)
	}
	if c.HaltThreshold <= 0 || c.HaltThreshold > 1 {
		return fmt.Errorf("halt threshold must be in (0, 1], got %v", c.HaltThreshold)
	}
	if c.WarningThreshold > c.HaltThreshold {
		return fmt.Errorf("warning threshold %v exceeds halt threshold %v", c.WarningThreshold, c.HaltThreshold)
	}
	return nil
}

// Status is a snapshot computed from the ledger.
type Status struct {
	State            State
	CurrentSpend     decimal.Decimal
	BudgetLimit      decimal.Decimal
	PercentUsed      float64
	Remaining        decimal.Decimal
	WarningThreshold float64
	HaltThreshold    float64
}

// SpendSource reports the current month's spend.
type SpendSource interface {
	CurrentSpend(ctx context.Context) (decimal.Decimal, error)
}

// StateChangeFunc is called with the previous and new state.
type StateChangeFunc func(old, new State)

// Breaker recomputes budget state from the ledger on every check. The cached
// state is only used to detect transitions for callbacks; decisions always
// come from a fresh read.
type Breaker struct {
	source  SpendSource
	limit   decimal.Decimal
	warning decimal.Decimal
	halt    decimal.Decimal
	cfg     BudgetConfig
	logger  *zap.Logger

	mu        sync.Mutex
	state     State
	callbacks []StateChangeFunc
}

// NewBreaker validates cfg and returns a Breaker in the NORMAL state.
func NewBreaker(source SpendSource, cfg BudgetConfig, logger *zap.Logger) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budget config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		source:  source,
		limit:   cfg.MonthlyLimit,
		warning: decimal.NewFromFloat(cfg.WarningThreshold),
		halt:    decimal.NewFromFloat(cfg.HaltThreshold),
		cfg:     cfg,
		logger:  logger,
		state:   StateNormal,
	}, nil
}

// State returns the last observed state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OnStateChange registers a callback fired on every actual transition.
func (b *Breaker) OnStateChange(fn StateChangeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, fn)
}

func (b *Breaker) stateFor(ratio decimal.Decimal) State {
	switch {
	case ratio.GreaterThanOrEqual(b.halt):
		return StateHalted
	case ratio.GreaterThanOrEqual(b.warning):
		return StateWarning
	default:
		return StateNormal
	}
}

func (b *Breaker) updateState(next State) {
	b.mu.Lock()
	prev := b.state
	if prev == next {
		b.mu.Unlock()
		return
	}
	b.state = next
	callbacks := append([]StateChangeFunc(nil), b.callbacks...)
	b.mu.Unlock()

	b.logger.Info("budget state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
	)
	for _, fn := range callbacks {
		fn(prev, next)
	}
}

// Status reads current spend and returns the derived snapshot.
func (b *Breaker) Status(ctx context.Context) (*Status, error) {
	spend, err := b.source.CurrentSpend(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current spend: %w", err)
	}

	ratio := spend.Div(b.limit)
	state := b.stateFor(ratio)
	b.updateState(state)

	percent, _ := ratio.Float64()
	metrics.BudgetState.Set(float64(state))
	metrics.BudgetPercentUsed.Set(percent)

	return &Status{
		State:            state,
		CurrentSpend:     spend,
		BudgetLimit:      b.limit,
		PercentUsed:      percent,
		Remaining:        b.limit.Sub(spend),
		WarningThreshold: b.cfg.WarningThreshold,
		HaltThreshold:    b.cfg.HaltThreshold,
	}, nil
}

// CheckBudget returns a *BudgetExceededError when HALTED. WARNING is only logged.
func (b *Breaker) CheckBudget(ctx context.Context) (*Status, error) {
	status, err := b.Status(ctx)
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("spend", status.CurrentSpend.StringFixed(2)),
		zap.String("limit", status.BudgetLimit.StringFixed(2)),
		zap.Float64("percent", status.PercentUsed),
	}
	switch status.State {
	case StateHalted:
		b.logger.Error("budget halted", fields...)
		return status, &BudgetExceededError{
			CurrentSpend: status.CurrentSpend,
			BudgetLimit:  status.BudgetLimit,
			PercentUsed:  status.PercentUsed,
		}
	case StateWarning:
		b.logger.Warn("budget warning", fields...)
	}
	return status, nil
}

// CanSpend reports whether spending estimate now keeps the projected ratio
// strictly below the halt threshold.
func (b *Breaker) CanSpend(ctx context.Context, estimate decimal.Decimal) (bool, error) {
	status, err := b.Status(ctx)
	if err != nil {
		return false, err
	}
	projected := status.CurrentSpend.Add(estimate).Div(b.limit)
	return projected.LessThan(b.halt), nil
}

// Guard is the check to run before a paid call. There is nothing to release
// afterwards.
func (b *Breaker) Guard(ctx context.Context) error {
	_, err := b.CheckBudget(ctx)
	return err
}

// Protect runs fn only if the budget allows it. With a non-nil estimate the
// projected spend must stay below halt; otherwise the current state must not
// be HALTED.
func (b *Breaker) Protect(ctx context.Context, estimate *decimal.Decimal, fn func(context.Context) error) error {
	if estimate != nil {
		ok, err := b.CanSpend(ctx, *estimate)
		if err != nil {
			return err
		}
		if !ok {
			status, err := b.Status(ctx)
			if err != nil {
				return err
			}
			return &BudgetExceededError{
				CurrentSpend: status.CurrentSpend,
				BudgetLimit:  status.BudgetLimit,
				PercentUsed:  status.PercentUsed,
			}
		}
	} else if err := b.Guard(ctx); err != nil {
		return err
	}
	return fn(ctx)
}
