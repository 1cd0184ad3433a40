package optim

import (
	"math"

	"github.com/robomosaic/robomosaic/robo-golib/errors"
)

// SchedulerOptions configure cosine annealing with warm restarts. T0 is the length of
// the first restart period in scheduler steps, TMult grows each subsequent period,
// and EtaMin is the floor the rate anneals down to.
type SchedulerOptions struct {
	T0     int     `json:"T_0"`
	TMult  int     `json:"T_mult"`
	EtaMin float64 `json:"eta_min"`
}

// CosineAnnealingWarmRestarts anneals the learning rate from its base value down to
// eta_min along a cosine over each period, snapping back to the base value when a
// period ends. The trainer steps it once per epoch.
type CosineAnnealingWarmRestarts struct {
	baseLR float64
	opts   SchedulerOptions

	tCur int
	tI   int
}

// NewCosineAnnealingWarmRestarts starts the schedule at the beginning of its first
// period.
func NewCosineAnnealingWarmRestarts(baseLR float64, opts SchedulerOptions) (*CosineAnnealingWarmRestarts, error) {
	if baseLR <= 0 {
		return nil, errors.Errorf("base learning rate must be positive, got %f", baseLR)
	}
	if opts.T0 <= 0 {
		return nil, errors.Errorf("T_0 must be positive, got %d", opts.T0)
	}
	if opts.TMult < 1 {
		return nil, errors.Errorf("T_mult must be at least 1, got %d", opts.TMult)
	}
	return &CosineAnnealingWarmRestarts{
		baseLR: baseLR,
		opts:   opts,
		tI:     opts.T0,
	}, nil
}

// LR is the learning rate at the current position in the schedule.
func (s *CosineAnnealingWarmRestarts) LR() float64 {
	cos := math.Cos(math.Pi * float64(s.tCur) / float64(s.tI))
	return s.opts.EtaMin + (s.baseLR-s.opts.EtaMin)*(1+cos)/2
}

// Step advances the schedule by one period unit, restarting when the period ends.
func (s *CosineAnnealingWarmRestarts) Step() {
	s.tCur++
	if s.tCur >= s.tI {
		s.tCur -= s.tI
		s.tI *= s.opts.TMult
	}
}

// SchedulerState is the schedule's serializable position.
type SchedulerState struct {
	BaseLR float64 `json:"base_lr"`
	TCur   int     `json:"T_cur"`
	TI     int     `json:"T_i"`

	Options SchedulerOptions `json:"options"`
}

// StateDict snapshots the schedule position and its options.
func (s *CosineAnnealingWarmRestarts) StateDict() SchedulerState {
	return SchedulerState{
		BaseLR:  s.baseLR,
		TCur:    s.tCur,
		TI:      s.tI,
		Options: s.opts,
	}
}

// LoadStateDict restores a snapshot.
func (s *CosineAnnealingWarmRestarts) LoadStateDict(sd SchedulerState) error {
	if sd.TI <= 0 || sd.TCur < 0 || sd.TCur >= sd.TI {
		return errors.Errorf("invalid schedule position T_cur=%d T_i=%d", sd.TCur, sd.TI)
	}
	s.baseLR = sd.BaseLR
	s.opts = sd.Options
	s.tCur = sd.TCur
	s.tI = sd.TI
	return nil
}
