package command

import (
	"fmt"
	"time"

	"github.com/muurk/lumen/internal/protocol"
)

// Job is the parameters of one command, captured when the command is
// submitted. It is a value: later changes to whatever it was built from do
// not reach a job already in flight.
type Job struct {
	Power    bool
	Color    protocol.HSBK
	Duration time.Duration
}

// NewJob snapshots power, color and transition duration. The color is
// clamped to the device ranges and a negative duration becomes zero.
func NewJob(power bool, color protocol.HSBK, duration time.Duration) Job {
	if duration < 0 {
		duration = 0
	}
	return Job{Power: power, Color: color.Clamp(), Duration: duration}
}

func (j Job) String() string {
	state := "off"
	if j.Power {
		state = "on"
	}
	return fmt.Sprintf("power=%s color=%s duration=%s", state, j.Color, j.Duration)
}
