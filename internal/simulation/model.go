// Package simulation computes job results. The model is a closed-form stand-in
// for a full agent-based run: tumour growth from division and decay rates with
// immune killing and drug-carrier damping, drawn from a generator seeded by the
// job's parameters so that a job always produces the same record.
package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"simjobs/internal/apperrors"
	"simjobs/internal/config"
	"simjobs/internal/job"
	"time"
)

// Record is the result stored on a Done job.
type Record struct {
	InitialTumorCount        int       `json:"initialTumorCount"`
	FinalTumorCount          int       `json:"finalTumorCount"`
	TumorGrowthRate          float64   `json:"tumorGrowthRate"`
	ImmuneCellsDeployed      int       `json:"immuneCellsDeployed"`
	TumorCellsKilledByImmune int       `json:"tumorCellsKilledByImmune"`
	ImmuneEfficiency         float64   `json:"immuneEfficiency"`
	StemCellsActivated       int       `json:"stemCellsActivated"`
	FibroblastActivity       float64   `json:"fibroblastActivity"`
	DrugCarriersUsed         int       `json:"drugCarriersUsed"`
	DrugEffectiveness        float64   `json:"drugEffectiveness"`
	SurvivalRate             float64   `json:"survivalRate"`
	SimulationDuration       float64   `json:"simulationDuration"`
	Mode                     job.Mode  `json:"mode"`
	Substrate                string    `json:"substrate"`
	Seed                     int64     `json:"seed"`
	CompletedAt              time.Time `json:"timestamp"`
}

// Config tunes the model runner.
type Config struct {
	// TimeScale is the wall-clock delay per unit of simulated duration.
	TimeScale time.Duration
}

// LoadConfigFromEnv loads model configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		TimeScale: config.GetDurationEnv("SIMULATION_TIME_SCALE", time.Second),
	}
}

// Model computes Records.
type Model struct {
	cfg Config
	now func() time.Time
}

// NewModel returns a model runner. A zero TimeScale computes without delay.
func NewModel(cfg Config) *Model {
	return &Model{cfg: cfg, now: time.Now}
}

// Compute waits for the scaled duration, then evaluates the model. It returns
// early with a compute error when ctx ends first.
func (m *Model) Compute(ctx context.Context, p job.Parameters) (job.Result, error) {
	if p.TumorCount <= 0 || p.Duration <= 0 {
		return nil, apperrors.Compute("simulation.compute", fmt.Errorf("tumorCount and duration must be positive"))
	}

	if delay := time.Duration(p.Duration * float64(m.cfg.TimeScale)); delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, apperrors.Compute("simulation.compute", ctx.Err())
		case <-t.C:
		}
	}

	rec := Evaluate(p)
	rec.CompletedAt = m.now().UTC()
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, apperrors.Compute("simulation.encode", err)
	}
	return body, nil
}

// Evaluate runs the model for p. Equal parameters, seed included, give equal records.
func Evaluate(p job.Parameters) Record {
	rng := rand.New(rand.NewPCG(uint64(p.Seed), uint64(p.Seed)^0x9e3779b97f4a7c15))
	jitter := func() float64 { return 0.9 + rng.Float64()*0.2 } // ±10%

	growth := p.DivisionRate - p.DecayRate
	timeSteps := p.Duration * 10
	steps := int(math.Ceil(timeSteps))

	tumor := float64(p.TumorCount)
	killedByImmune := 0.0
	drugEffect := 0.0
	for range steps {
		tumor *= (1 + growth/timeSteps) * jitter()
		if p.ImmuneCount > 0 {
			killed := math.Floor(tumor * float64(p.ImmuneCount) / 1000 * 0.01 * jitter())
			killedByImmune += killed
			tumor -= killed
		}
		if p.DrugCarrierCount > 0 {
			effect := float64(p.DrugCarrierCount) / 100 * 0.005 * jitter()
			tumor *= 1 - effect
			drugEffect += effect
		}
	}

	initial := float64(p.TumorCount)
	final := math.Max(0, math.Floor(tumor))
	survival := math.Max(0, math.Min(1, 1-final/(initial*10)))
	immuneEfficiency := 0.0
	if p.ImmuneCount > 0 {
		immuneEfficiency = killedByImmune / (initial + killedByImmune)
	}
	volume := 1.0
	if p.Mode == job.Mode3D {
		volume = 1.5
	}
	fibroblastActivity := 0.0
	if p.FibroblastCount > 0 {
		fibroblastActivity = round2(rng.Float64()*50 + 25)
	}

	return Record{
		InitialTumorCount:        p.TumorCount,
		FinalTumorCount:          int(math.Floor(final * volume)),
		TumorGrowthRate:          (final - initial) / initial * 100,
		ImmuneCellsDeployed:      p.ImmuneCount,
		TumorCellsKilledByImmune: int(killedByImmune),
		ImmuneEfficiency:         round2(immuneEfficiency * 100),
		StemCellsActivated:       int(math.Floor(float64(p.StemCount) * 0.3 * jitter())),
		FibroblastActivity:       fibroblastActivity,
		DrugCarriersUsed:         p.DrugCarrierCount,
		DrugEffectiveness:        round2(drugEffect * 100 / timeSteps),
		SurvivalRate:             round2(survival * 100),
		SimulationDuration:       p.Duration,
		Mode:                     p.Mode,
		Substrate:                p.Substrate,
		Seed:                     p.Seed,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
