package seqflow

import "math"

// ScheduleType names a learning-rate schedule.
type ScheduleType string

const (
	ScheduleStep        ScheduleType = "step"
	ScheduleExponential ScheduleType = "exponential"
)

// Schedule decays an updater's base learning rate by iteration count.
type Schedule struct {
	Type  ScheduleType `json:"type"`
	Gamma float64      `json:"gamma"`
	Step  int          `json:"step,omitempty"`
}

// StepSchedule multiplies the rate by gamma every step iterations.
func StepSchedule(gamma float64, step int) *Schedule {
	return &Schedule{Type: ScheduleStep, Gamma: gamma, Step: step}
}

// ExponentialSchedule multiplies the rate by gamma every iteration.
func ExponentialSchedule(gamma float64) *Schedule {
	return &Schedule{Type: ScheduleExponential, Gamma: gamma}
}

func (s *Schedule) validate() error {
	if s.Gamma <= 0 || s.Gamma > 1 {
		return errorf("schedule gamma must be in (0, 1], got %v", s.Gamma)
	}
	switch s.Type {
	case ScheduleStep:
		if s.Step <= 0 {
			return errorf("step schedule requires step > 0, got %d", s.Step)
		}
	case ScheduleExponential:
	default:
		return errorf("unknown schedule %q", string(s.Type))
	}
	return nil
}

func (s *Schedule) valueAt(base float64, iteration int) float64 {
	switch s.Type {
	case ScheduleStep:
		return base * math.Pow(s.Gamma, math.Floor(float64(iteration)/float64(s.Step)))
	case ScheduleExponential:
		return base * math.Pow(s.Gamma, float64(iteration))
	}
	return base
}

func scheduled(s *Schedule, base float64, iteration int) float64 {
	if s == nil {
		return base
	}
	return s.valueAt(base, iteration)
}
