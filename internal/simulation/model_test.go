package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"simjobs/internal/apperrors"
	"simjobs/internal/job"
	"testing"
	"time"
)

func testParams(seed int64) job.Parameters {
	p := job.DefaultParameters()
	p.TumorCount = 100
	p.Seed = seed
	return p
}

func TestEvaluate_Deterministic(t *testing.T) {
	t.Parallel()

	a := Evaluate(testParams(7))
	b := Evaluate(testParams(7))
	if a != b {
		t.Errorf("same seed produced different records:\n%+v\n%+v", a, b)
	}

	c := Evaluate(testParams(8))
	if a == c {
		t.Error("different seeds produced identical records")
	}
}

func TestEvaluate_Shape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*job.Parameters)
		check  func(t *testing.T, r Record)
	}{
		{
			name:   "echoes inputs",
			modify: func(p *job.Parameters) {},
			check: func(t *testing.T, r Record) {
				if r.InitialTumorCount != 100 || r.ImmuneCellsDeployed != 50 || r.DrugCarriersUsed != 30 {
					t.Errorf("inputs not echoed: %+v", r)
				}
				if r.Mode != job.Mode2D || r.Substrate != "Oxygen" || r.SimulationDuration != 5 {
					t.Errorf("metadata not echoed: %+v", r)
				}
			},
		},
		{
			name: "no immune cells kill nothing",
			modify: func(p *job.Parameters) {
				p.ImmuneCount = 0
			},
			check: func(t *testing.T, r Record) {
				if r.TumorCellsKilledByImmune != 0 || r.ImmuneEfficiency != 0 {
					t.Errorf("immune effect without immune cells: %+v", r)
				}
			},
		},
		{
			name: "no fibroblasts no activity",
			modify: func(p *job.Parameters) {
				p.FibroblastCount = 0
			},
			check: func(t *testing.T, r Record) {
				if r.FibroblastActivity != 0 {
					t.Errorf("FibroblastActivity = %v, want 0", r.FibroblastActivity)
				}
			},
		},
		{
			name: "bounded rates",
			modify: func(p *job.Parameters) {
				p.DivisionRate = 10
				p.DecayRate = 0
			},
			check: func(t *testing.T, r Record) {
				if r.SurvivalRate < 0 || r.SurvivalRate > 100 {
					t.Errorf("SurvivalRate = %v out of [0,100]", r.SurvivalRate)
				}
				if r.FinalTumorCount < 0 {
					t.Errorf("FinalTumorCount = %d", r.FinalTumorCount)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := testParams(3)
			tt.modify(&p)
			tt.check(t, Evaluate(p))
		})
	}
}

func TestEvaluate_3DScalesVolume(t *testing.T) {
	t.Parallel()

	flat := testParams(11)
	deep := testParams(11)
	z := 10
	deep.Mode = job.Mode3D
	deep.Z = &z

	rf, rd := Evaluate(flat), Evaluate(deep)
	if rf.TumorGrowthRate != rd.TumorGrowthRate {
		t.Fatalf("3D changed the growth path: %v vs %v", rf.TumorGrowthRate, rd.TumorGrowthRate)
	}
	if want := int(math.Floor(float64(rf.FinalTumorCount) * 1.5)); rd.FinalTumorCount != want {
		t.Errorf("3D FinalTumorCount = %d, want %d (1.5 x %d)", rd.FinalTumorCount, want, rf.FinalTumorCount)
	}
}

func TestModel_Compute(t *testing.T) {
	t.Parallel()

	m := NewModel(Config{})
	fixed := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	body, err := m.Compute(context.Background(), testParams(5))
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("result is not a record: %v", err)
	}
	if !rec.CompletedAt.Equal(fixed) {
		t.Errorf("CompletedAt = %v, want %v", rec.CompletedAt, fixed)
	}
	rec.CompletedAt = time.Time{}
	if want := Evaluate(testParams(5)); rec != want {
		t.Errorf("Compute() = %+v, want %+v", rec, want)
	}
}

func TestModel_ComputeHonoursCancellation(t *testing.T) {
	t.Parallel()

	m := NewModel(Config{TimeScale: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Compute(ctx, testParams(1))
	if !errors.Is(err, apperrors.ErrCompute) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Compute() error = %v, want compute error wrapping deadline", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Compute() ignored cancellation")
	}
}

func TestModel_ComputeRejectsDegenerateInput(t *testing.T) {
	t.Parallel()

	p := testParams(1)
	p.TumorCount = 0
	if _, err := NewModel(Config{}).Compute(context.Background(), p); !errors.Is(err, apperrors.ErrCompute) {
		t.Errorf("Compute() error = %v, want ErrCompute", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SIMULATION_TIME_SCALE", "10ms")
	if got := LoadConfigFromEnv().TimeScale; got != 10*time.Millisecond {
		t.Errorf("TimeScale = %v, want 10ms", got)
	}
}
