package ui

import (
	"errors"

	"github.com/muurk/lumen/internal/command"
	"github.com/muurk/lumen/internal/lanerr"
)

// Troubleshooting returns hints for the failure kind of err.
func Troubleshooting(err error) []string {
	if err == nil {
		return nil
	}

	var tips []string
	var se *command.StageError
	if errors.As(err, &se) && se.PowerApplied {
		tips = append(tips, "The light was switched on but kept its previous color")
	}

	switch {
	case lanerr.IsTimeout(err):
		tips = append(tips,
			"Check the light is powered at the wall switch",
			"Make sure this machine is on the same network as the light",
			"Raise the request timeout with --timeout",
		)
	case lanerr.IsProtocolMismatch(err):
		tips = append(tips,
			"The device answered with an unexpected message",
			"Another device type may be using the same port",
		)
	case lanerr.IsOutOfRange(err):
		tips = append(tips,
			"Run 'lumenctl list' to see valid device indexes",
			"Indexes change between scans; select by device id instead",
		)
	case errors.Is(err, lanerr.ErrBusy):
		tips = append(tips, "Too many requests are in flight; wait and retry")
	case lanerr.IsIO(err):
		tips = append(tips,
			"Check that broadcast traffic is allowed on this interface",
			"Another program may be bound to the same port",
		)
	}
	return tips
}
