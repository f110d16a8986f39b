package simulation

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/quantlab/internal/domain"
)

// PredefinedScenarios returns the built-in stress scenarios. Weights sum to 1.
func PredefinedScenarios() []domain.ScenarioSpec {
	return []domain.ScenarioSpec{
		{Name: "market_crash", VolatilityMultiplier: 3.0, ReturnShift: -0.002, CorrelationMultiplier: 1.5, Weight: 0.15},
		{Name: "high_volatility", VolatilityMultiplier: 2.0, ReturnShift: 0, CorrelationMultiplier: 1, Weight: 0.2},
		{Name: "low_volatility", VolatilityMultiplier: 0.5, ReturnShift: 0, CorrelationMultiplier: 1, Weight: 0.2},
		{Name: "bear_market", VolatilityMultiplier: 1.5, ReturnShift: -0.001, CorrelationMultiplier: 1, Weight: 0.2},
		{Name: "correlation_spike", VolatilityMultiplier: 1.2, ReturnShift: 0, CorrelationMultiplier: 2.0, Weight: 0.15},
		{Name: "correlation_breakdown", VolatilityMultiplier: 1.0, ReturnShift: 0, CorrelationMultiplier: 0, Weight: 0.1},
	}
}

// scenarioEntry lets omitted multipliers default to 1
type scenarioEntry struct {
	Name                  string   `yaml:"name"`
	VolatilityMultiplier  *float64 `yaml:"volatility_multiplier"`
	ReturnShift           float64  `yaml:"return_shift"`
	CorrelationMultiplier *float64 `yaml:"correlation_multiplier"`
	Weight                *float64 `yaml:"weight"`
}

type scenarioFile struct {
	Scenarios []scenarioEntry `yaml:"scenarios"`
}

// LoadScenarios decodes a YAML document of the form
//
//	scenarios:
//	  - name: crash
//	    volatility_multiplier: 3
//	    return_shift: -0.002
//
// Unknown keys and duplicate names are rejected. Omitted multipliers and
// weights default to 1.
func LoadScenarios(r io.Reader) ([]domain.ScenarioSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file scenarioFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.Invalid("scenario file is empty")
		}
		return nil, domain.Invalid("decode scenarios: %v", err)
	}
	if len(file.Scenarios) == 0 {
		return nil, domain.Invalid("scenario file defines no scenarios")
	}

	seen := make(map[string]bool, len(file.Scenarios))
	out := make([]domain.ScenarioSpec, 0, len(file.Scenarios))
	for _, entry := range file.Scenarios {
		spec := domain.ScenarioSpec{
			Name:                  entry.Name,
			VolatilityMultiplier:  valueOr(entry.VolatilityMultiplier, 1),
			ReturnShift:           entry.ReturnShift,
			CorrelationMultiplier: valueOr(entry.CorrelationMultiplier, 1),
			Weight:                valueOr(entry.Weight, 1),
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if seen[spec.Name] {
			return nil, domain.Invalid("duplicate scenario %q", spec.Name)
		}
		seen[spec.Name] = true
		out = append(out, spec)
	}
	return out, nil
}

// LoadScenariosFile reads scenarios from a YAML file
func LoadScenariosFile(path string) ([]domain.ScenarioSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenarios: %w", err)
	}
	defer f.Close()
	return LoadScenarios(f)
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
