// Package connparams defines the link-layer connection parameter profiles used
// for the split keyboard link and the policy that maps a link mode to a profile.
package connparams

import (
	"fmt"
	"strings"
)

// Mode is the power/latency mode the link is parameterized for.
type Mode int

const (
	// ModeActive keeps the link on the low-latency profile.
	ModeActive Mode = iota
	// ModeIdle keeps the link on the low-power profile.
	ModeIdle
)

func (m Mode) String() string {
	switch m {
	case ModeActive:
		return "active"
	case ModeIdle:
		return "idle"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts "active" or "idle" (case-insensitive) to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return ModeActive, nil
	case "idle":
		return ModeIdle, nil
	default:
		return ModeActive, fmt.Errorf("connparams: unknown mode %q (must be active or idle)", s)
	}
}

// Link-layer limits for LE connection parameters.
const (
	IntervalLowerBound = 6    // 7.5ms
	IntervalUpperBound = 3200 // 4s
	LatencyUpperBound  = 499
	TimeoutLowerBound  = 10   // 100ms
	TimeoutUpperBound  = 3200 // 32s
)

// Set is a BLE connection parameter set.
type Set struct {
	// Connection interval bounds in units of 1.25ms
	IntervalMin uint16 `json:"interval_min" yaml:"interval_min"`
	IntervalMax uint16 `json:"interval_max" yaml:"interval_max"`

	// Number of connection events the peripheral may skip
	Latency uint16 `json:"latency" yaml:"latency"`

	// Supervision timeout in units of 10ms
	SupervisionTimeout uint16 `json:"supervision_timeout" yaml:"supervision_timeout"`
}

var (
	// Active is the low-latency profile applied while input activity occurs.
	Active = Set{IntervalMin: 0x0006, IntervalMax: 0x0006, Latency: 30, SupervisionTimeout: 400}

	// Idle is the low-power profile applied after the inactivity timeout.
	Idle = Set{IntervalMin: 0x00C8, IntervalMax: 0x00C8, Latency: 0, SupervisionTimeout: 400}
)

// ParametersFor returns the parameter set to apply for the given mode.
func ParametersFor(mode Mode) Set {
	if mode == ModeIdle {
		return Idle
	}
	return Active
}

// Validate checks that the set is within the ranges accepted by the link layer.
func (s Set) Validate() error {
	if s.IntervalMin < IntervalLowerBound || s.IntervalMin > IntervalUpperBound {
		return fmt.Errorf("connparams: interval_min out of range (%d-%d): %d", IntervalLowerBound, IntervalUpperBound, s.IntervalMin)
	}
	if s.IntervalMax < IntervalLowerBound || s.IntervalMax > IntervalUpperBound {
		return fmt.Errorf("connparams: interval_max out of range (%d-%d): %d", IntervalLowerBound, IntervalUpperBound, s.IntervalMax)
	}
	if s.IntervalMax < s.IntervalMin {
		return fmt.Errorf("connparams: interval_max (%d) must be >= interval_min (%d)", s.IntervalMax, s.IntervalMin)
	}
	if s.Latency > LatencyUpperBound {
		return fmt.Errorf("connparams: latency out of range (0-%d): %d", LatencyUpperBound, s.Latency)
	}
	if s.SupervisionTimeout < TimeoutLowerBound || s.SupervisionTimeout > TimeoutUpperBound {
		return fmt.Errorf("connparams: supervision_timeout out of range (%d-%d): %d", TimeoutLowerBound, TimeoutUpperBound, s.SupervisionTimeout)
	}

	// (1 + latency) * interval_max * 2, converted from 1.25ms to 10ms units
	minTimeout := (1 + uint32(s.Latency)) * uint32(s.IntervalMax) / 4
	if uint32(s.SupervisionTimeout) <= minTimeout {
		return fmt.Errorf("connparams: supervision_timeout (%d * 10ms) must be > (1+latency)*interval_max*2 (%d * 10ms)",
			s.SupervisionTimeout, minTimeout)
	}

	return nil
}

// IntervalMinMs returns the minimum connection interval in milliseconds.
func (s Set) IntervalMinMs() float64 {
	return float64(s.IntervalMin) * 1.25
}

// IntervalMaxMs returns the maximum connection interval in milliseconds.
func (s Set) IntervalMaxMs() float64 {
	return float64(s.IntervalMax) * 1.25
}

// SupervisionTimeoutMs returns the supervision timeout in milliseconds.
func (s Set) SupervisionTimeoutMs() uint32 {
	return uint32(s.SupervisionTimeout) * 10
}

func (s Set) String() string {
	return fmt.Sprintf("interval=%.2f-%.2fms latency=%d timeout=%dms",
		s.IntervalMinMs(), s.IntervalMaxMs(), s.Latency, s.SupervisionTimeoutMs())
}
