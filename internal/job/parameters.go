package job

import (
	"fmt"
	"simjobs/internal/apperrors"
	"strings"
)

// Validation limits
const (
	maxTitleLength     = 255
	maxSubstrateLength = 100
	maxDuration        = 1000
	maxDecayRate       = 1
	maxDivisionRate    = 10
	maxCoordinate      = 1000
	maxCellCount       = 10000
)

// Mode is the spatial dimensionality of a simulation.
type Mode string

const (
	Mode2D Mode = "2D"
	Mode3D Mode = "3D"
)

// Movement is the stored movement model of a cell population.
type Movement string

const (
	MovementNone       Movement = "None"
	MovementRandom     Movement = "Random"
	MovementDirected   Movement = "Directed"
	MovementCollective Movement = "Collective"
	MovementFlow       Movement = "Flow"
)

// movementAliases maps user-facing names onto stored movement values.
var movementAliases = map[string]Movement{
	"static":     MovementNone,
	"none":       MovementNone,
	"random":     MovementRandom,
	"directed":   MovementDirected,
	"collective": MovementCollective,
	"flow":       MovementFlow,
}

// ParseMovement accepts either a user-facing alias ("static", "random", ...) or a
// stored value ("None", "Random", ...), case-insensitively.
func ParseMovement(s string) (Movement, bool) {
	m, ok := movementAliases[strings.ToLower(strings.TrimSpace(s))]
	return m, ok
}

// Parameters is the configuration snapshot a job is computed from.
type Parameters struct {
	Title        string  `json:"title" yaml:"title"`
	Mode         Mode    `json:"mode" yaml:"mode"`
	Substrate    string  `json:"substrate" yaml:"substrate"`
	Duration     float64 `json:"duration" yaml:"duration"`
	DecayRate    float64 `json:"decayRate" yaml:"decayRate"`
	DivisionRate float64 `json:"divisionRate" yaml:"divisionRate"`
	X            int     `json:"x" yaml:"x"`
	Y            int     `json:"y" yaml:"y"`
	Z            *int    `json:"z,omitempty" yaml:"z,omitempty"`

	TumorCount       int `json:"tumorCount" yaml:"tumorCount"`
	ImmuneCount      int `json:"immuneCount" yaml:"immuneCount"`
	StemCount        int `json:"stemCount" yaml:"stemCount"`
	FibroblastCount  int `json:"fibroblastCount" yaml:"fibroblastCount"`
	DrugCarrierCount int `json:"drugCarrierCount" yaml:"drugCarrierCount"`

	TumorMovement       Movement `json:"tumorMovement" yaml:"tumorMovement"`
	ImmuneMovement      Movement `json:"immuneMovement" yaml:"immuneMovement"`
	StemMovement        Movement `json:"stemMovement" yaml:"stemMovement"`
	FibroblastMovement  Movement `json:"fibroblastMovement" yaml:"fibroblastMovement"`
	DrugCarrierMovement Movement `json:"drugCarrierMovement" yaml:"drugCarrierMovement"`

	// Seed makes the computation reproducible. Zero means "assign one at submission".
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Clone returns a deep copy of p.
func (p Parameters) Clone() Parameters {
	if p.Z != nil {
		z := *p.Z
		p.Z = &z
	}
	return p
}

// DefaultParameters returns the template that omitted fields fall back to. Decode
// requests into a copy of it so that only fields present in the payload override it.
func DefaultParameters() Parameters {
	return Parameters{
		Title:               "Untitled",
		Mode:                Mode2D,
		Substrate:           "Oxygen",
		Duration:            5,
		DecayRate:           0.1,
		DivisionRate:        0.05,
		X:                   100,
		Y:                   100,
		ImmuneCount:         50,
		StemCount:           25,
		FibroblastCount:     75,
		DrugCarrierCount:    30,
		TumorMovement:       MovementRandom,
		ImmuneMovement:      MovementDirected,
		StemMovement:        MovementNone,
		FibroblastMovement:  MovementRandom,
		DrugCarrierMovement: MovementDirected,
	}
}

// Normalize returns a deep copy of p with the mode upper-cased and movement aliases
// resolved to their stored values.
func (p Parameters) Normalize() Parameters {
	p = p.Clone()
	p.Mode = Mode(strings.ToUpper(strings.TrimSpace(string(p.Mode))))
	p.TumorMovement = normalizeMovement(p.TumorMovement, MovementRandom)
	p.ImmuneMovement = normalizeMovement(p.ImmuneMovement, MovementDirected)
	p.StemMovement = normalizeMovement(p.StemMovement, MovementNone)
	p.FibroblastMovement = normalizeMovement(p.FibroblastMovement, MovementRandom)
	p.DrugCarrierMovement = normalizeMovement(p.DrugCarrierMovement, MovementDirected)
	return p
}

// normalizeMovement resolves an alias, keeps unknown values for Validate to reject.
func normalizeMovement(m, def Movement) Movement {
	if m == "" {
		return def
	}
	if resolved, ok := ParseMovement(string(m)); ok {
		return resolved
	}
	return m
}

type intField struct {
	field string
	value int
}

// Validate checks p against the parameter schema. Does not modify p.
func (p Parameters) Validate() error {
	if p.Title == "" || len(p.Title) > maxTitleLength {
		return apperrors.Validation("title", fmt.Sprintf("title must be 1-%d characters", maxTitleLength))
	}
	if p.Mode != Mode2D && p.Mode != Mode3D {
		return apperrors.Validation("mode", "mode must be '2D' or '3D'")
	}
	if p.Substrate == "" || len(p.Substrate) > maxSubstrateLength {
		return apperrors.Validation("substrate", fmt.Sprintf("substrate must be 1-%d characters", maxSubstrateLength))
	}
	if p.Duration <= 0 || p.Duration > maxDuration {
		return apperrors.Validation("duration", fmt.Sprintf("duration must be positive and at most %d", maxDuration))
	}
	if p.DecayRate < 0 || p.DecayRate > maxDecayRate {
		return apperrors.Validation("decayRate", "decay rate must be between 0 and 1")
	}
	if p.DivisionRate < 0 || p.DivisionRate > maxDivisionRate {
		return apperrors.Validation("divisionRate", fmt.Sprintf("division rate must be between 0 and %d", maxDivisionRate))
	}

	coords := []intField{{"x", p.X}, {"y", p.Y}}
	if p.Z != nil {
		coords = append(coords, intField{"z", *p.Z})
	}
	for _, c := range coords {
		if c.value < 0 || c.value > maxCoordinate {
			return apperrors.Validation(c.field, fmt.Sprintf("%s coordinate must be between 0 and %d", c.field, maxCoordinate))
		}
	}
	switch {
	case p.Mode == Mode2D && p.Z != nil && *p.Z != 0:
		return apperrors.Validation("z", "z coordinate must be 0 or omitted for 2D mode")
	case p.Mode == Mode3D && p.Z == nil:
		return apperrors.Validation("z", "z coordinate is required for 3D mode")
	}

	if p.TumorCount < 1 || p.TumorCount > maxCellCount {
		return apperrors.Validation("tumorCount", fmt.Sprintf("tumor count must be between 1 and %d", maxCellCount))
	}
	counts := []intField{
		{"immuneCount", p.ImmuneCount},
		{"stemCount", p.StemCount},
		{"fibroblastCount", p.FibroblastCount},
		{"drugCarrierCount", p.DrugCarrierCount},
	}
	for _, c := range counts {
		if c.value < 0 || c.value > maxCellCount {
			return apperrors.Validation(c.field, fmt.Sprintf("%s must be between 0 and %d", c.field, maxCellCount))
		}
	}

	movements := []struct {
		field string
		value Movement
	}{
		{"tumorMovement", p.TumorMovement},
		{"immuneMovement", p.ImmuneMovement},
		{"stemMovement", p.StemMovement},
		{"fibroblastMovement", p.FibroblastMovement},
		{"drugCarrierMovement", p.DrugCarrierMovement},
	}
	for _, m := range movements {
		if _, ok := ParseMovement(string(m.value)); !ok {
			return apperrors.Validation(m.field, fmt.Sprintf("%s must be one of static, random, directed, collective, flow, none", m.field))
		}
	}
	return nil
}
