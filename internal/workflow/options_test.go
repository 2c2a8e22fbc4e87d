package workflow

import (
	"errors"
	"testing"

	"github.com/cloud-shuttle/muster/internal/phase"
	"github.com/cloud-shuttle/muster/pkg/telemetry"
)

func TestValidateDefaultsPhases(t *testing.T) {
	opts := Options{}
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(opts.Phases) != len(phase.DefaultList) {
		t.Fatalf("Phases = %v", opts.Phases)
	}
	// The default must be a private copy.
	opts.Phases[0] = phase.Review
	if phase.DefaultList[0] != phase.Plan {
		t.Error("Validate aliased the shared default list")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		opts Options
	}{
		{"unknown phase", Options{Phases: []phase.Name{"deploy"}}},
		{"fix reserved", Options{Phases: []phase.Name{phase.Plan, phase.Fix}}},
		{"chain without sequential", Options{Chain: true}},
		{"qa gate without chain", Options{QAGate: true, Sequential: true}},
		{"negative max iterations", Options{MaxIterations: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if err == nil {
				t.Fatal("expected a configuration error")
			}
			if !errors.Is(err, ErrConfig) {
				t.Errorf("error not marked as configuration error: %v", err)
			}
		})
	}
}

func TestValidAccepted(t *testing.T) {
	opts := Options{Sequential: true, Chain: true, QAGate: true, MaxIterations: 5}
	if err := opts.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestMode(t *testing.T) {
	cases := []struct {
		opts Options
		want string
	}{
		{Options{}, telemetry.BatchModeIsolated},
		{Options{Sequential: true}, telemetry.BatchModeSequential},
		{Options{Sequential: true, Chain: true}, telemetry.BatchModeChain},
	}
	for _, tc := range cases {
		if got := tc.opts.Mode(); got != tc.want {
			t.Errorf("Mode(%+v) = %s, want %s", tc.opts, got, tc.want)
		}
	}
}
