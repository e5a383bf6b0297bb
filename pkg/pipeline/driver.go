package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// Driver orchestrates the batch: n independent personality/simulation
// runs, then one optimization pass over the full set of transcripts.
type Driver struct {
	synth    *Synthesizer
	sim      *Simulator
	opt      *Optimizer
	script   string
	maxTurns int
	logger   *slog.Logger
}

// NewDriver creates a Driver for one agent script.
func NewDriver(synth *Synthesizer, sim *Simulator, opt *Optimizer, script string, maxTurns int, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		synth:    synth,
		sim:      sim,
		opt:      opt,
		script:   script,
		maxTurns: maxTurns,
		logger:   logger,
	}
}

// Run executes n simulations sequentially and optimizes once over the
// complete batch. All-or-nothing: a single failed run aborts before any
// optimization is attempted, so a partial batch is never silently scored.
func (d *Driver) Run(ctx context.Context, n int) (*OptimizationReport, error) {
	if n < 1 {
		return nil, fmt.Errorf("run: simulation count must be >= 1, got %d", n)
	}

	transcripts := make([]Transcript, 0, n)
	for i := 1; i <= n; i++ {
		d.logger.Info("simulating person", "run", i, "of", n)

		personality, err := d.synth.Generate(ctx)
		if err != nil {
			return nil, fmt.Errorf("run %d/%d: %w", i, n, err)
		}

		transcript, err := d.sim.Simulate(ctx, d.script, personality, d.maxTurns)
		if err != nil {
			return nil, fmt.Errorf("run %d/%d: %w", i, n, err)
		}
		transcripts = append(transcripts, transcript)
	}
	d.logger.Info("simulations complete", "count", len(transcripts))

	return d.opt.Optimize(ctx, d.script, transcripts)
}
