package validation

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/domain"
)

// Summary is the validation section attached to every report. Checks that
// could not run are listed in Skipped with the reason.
type Summary struct {
	Observations    int                    `json:"observations" msgpack:"observations"`
	Stationarity    *StationarityResult    `json:"stationarity,omitempty" msgpack:"stationarity,omitempty"`
	Autocorrelation *AutocorrelationResult `json:"autocorrelation,omitempty" msgpack:"autocorrelation,omitempty"`
	Economic        *EconomicResult        `json:"economic,omitempty" msgpack:"economic,omitempty"`
	Overfitting     *OverfittingResult     `json:"overfitting,omitempty" msgpack:"overfitting,omitempty"`
	Skipped         map[string]string      `json:"skipped,omitempty" msgpack:"skipped,omitempty"`
}

// Validator runs every check against an out-of-sample return stream
type Validator struct {
	cfg Config
	log zerolog.Logger
}

// NewValidator validates cfg
func NewValidator(cfg Config, log zerolog.Logger) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Validator{cfg: cfg, log: log.With().Str("component", "validation").Logger()}, nil
}

// Config returns the validator configuration
func (v *Validator) Config() Config {
	return v.cfg
}

// Validate runs stationarity, autocorrelation and economic significance on
// test, plus overfitting when train is non-empty. Streams shorter than
// MinObservations are recorded as skipped, never as an error.
func (v *Validator) Validate(train, test []float64) *Summary {
	s := &Summary{Observations: len(test), Skipped: map[string]string{}}
	if len(test) < v.cfg.MinObservations {
		reason := "fewer observations than min_observations"
		for _, name := range []string{"stationarity", "autocorrelation", "economic", "overfitting"} {
			s.Skipped[name] = reason
		}
		v.log.Debug().Int("observations", len(test)).Msg("Validation skipped")
		return s
	}

	var err error
	if s.Stationarity, err = Stationarity(test, v.cfg); err != nil {
		v.skip(s, "stationarity", err)
	}
	if s.Autocorrelation, err = Autocorrelation(test, v.cfg); err != nil {
		v.skip(s, "autocorrelation", err)
	}
	if s.Economic, err = EconomicSignificance(test, v.cfg); err != nil {
		v.skip(s, "economic", err)
	}
	if len(train) == 0 {
		s.Skipped["overfitting"] = "no in-sample returns"
	} else if s.Overfitting, err = Overfitting(train, test, v.cfg); err != nil {
		v.skip(s, "overfitting", err)
	}

	if len(s.Skipped) == 0 {
		s.Skipped = nil
	}
	return s
}

func (v *Validator) skip(s *Summary, check string, err error) {
	s.Skipped[check] = err.Error()
	level := v.log.Warn()
	if errors.Is(err, domain.ErrInsufficientData) {
		level = v.log.Debug()
	}
	level.Err(err).Str("check", check).Msg("Validation check skipped")
}
