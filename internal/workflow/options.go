package workflow

import (
	"errors"
	"fmt"

	"github.com/cloud-shuttle/muster/internal/phase"
	"github.com/cloud-shuttle/muster/pkg/telemetry"
)

// ErrConfig marks invalid option combinations. These fail before any
// phase executes and map to their own exit code.
var ErrConfig = errors.New("configuration error")

// Issue identifies one unit of work for a batch
type Issue struct {
	ID    string
	Title string
	Body  string

	// Number is the tracker issue number; zero when the issue does not
	// come from the tracker
	Number int
}

// Options are the execution-mode flags for one batch
type Options struct {
	// Phases is the ordered phase list; empty selects the default list
	Phases []phase.Name

	// Sequential halts the batch at the first blocked issue. It controls
	// failure propagation only: execution is always one phase at a time.
	Sequential bool

	// Chain makes each issue branch from its predecessor's tip
	Chain bool

	// QAGate pauses the chain until the predecessor passed review
	QAGate bool

	// QualityLoop enables fix-and-retry cycles on phase failure
	QualityLoop bool

	// MaxIterations overrides the implementation-class retry cap when
	// positive; the review-class cap stays configured independently
	MaxIterations int

	// Resume skips phases already completed per the state store,
	// reconciled against tracker status comments
	Resume bool

	// DryRun prints the plan without executing anything
	DryRun bool
}

// Validate rejects invalid flag combinations before any work starts
func (o *Options) Validate() error {
	if len(o.Phases) == 0 {
		o.Phases = append([]phase.Name(nil), phase.DefaultList...)
	}
	for _, ph := range o.Phases {
		if !ph.Valid() {
			return fmt.Errorf("%w: unknown phase %q", ErrConfig, ph)
		}
		if ph == phase.Fix {
			return fmt.Errorf("%w: phase %q is reserved for quality loops", ErrConfig, ph)
		}
	}
	if o.Chain && !o.Sequential {
		return fmt.Errorf("%w: --chain requires --sequential", ErrConfig)
	}
	if o.QAGate && !o.Chain {
		return fmt.Errorf("%w: --qa-gate requires --chain", ErrConfig)
	}
	if o.MaxIterations < 0 {
		return fmt.Errorf("%w: --max-iterations must not be negative", ErrConfig)
	}
	return nil
}

// Mode names the batch execution mode for logs and telemetry
func (o *Options) Mode() string {
	switch {
	case o.Chain:
		return telemetry.BatchModeChain
	case o.Sequential:
		return telemetry.BatchModeSequential
	default:
		return telemetry.BatchModeIsolated
	}
}
