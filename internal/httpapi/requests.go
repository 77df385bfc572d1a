package httpapi

import (
	"net/http"
	"time"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/model"
)

// wireSimulationConfig mirrors model.SimulationConfig but carries seed as
// an optional pointer so the HTTP layer can tell "seed omitted" apart
// from "seed 0" and set HasSeed accordingly.
type wireSimulationConfig struct {
	TPSamples        model.ThroughputHistory `json:"tp_samples"`
	Backlog          int                     `json:"backlog"`
	NSimulations     int                     `json:"n_simulations"`
	Mode             model.Mode              `json:"mode"`
	TeamSize         int                     `json:"team_size"`
	MinContributors  int                     `json:"min_contributors"`
	MaxContributors  int                     `json:"max_contributors"`
	SCurvePct        int                     `json:"s_curve_pct"`
	LTSamples        []float64               `json:"lt_samples,omitempty"`
	SplitRateSamples []float64               `json:"split_rate_samples,omitempty"`
	Risks            []model.Risk            `json:"risks,omitempty"`
	Seed             *uint64                 `json:"seed,omitempty"`
}

func (w wireSimulationConfig) toModel() model.SimulationConfig {
	cfg := model.SimulationConfig{
		TPSamples:        w.TPSamples,
		Backlog:          w.Backlog,
		NSimulations:     w.NSimulations,
		Mode:             w.Mode,
		TeamSize:         w.TeamSize,
		MinContributors:  w.MinContributors,
		MaxContributors:  w.MaxContributors,
		SCurvePct:        w.SCurvePct,
		LTSamples:        w.LTSamples,
		SplitRateSamples: w.SplitRateSamples,
		Risks:            w.Risks,
	}
	if w.NSimulations == 0 {
		cfg.NSimulations = 10_000
	}
	if w.Mode == "" {
		cfg.Mode = model.ModeSimple
	}
	if w.Seed != nil {
		cfg.Seed = *w.Seed
		cfg.HasSeed = true
	}
	return cfg
}

func decodeSimulationConfig(r *http.Request) (model.SimulationConfig, error) {
	var w wireSimulationConfig
	if err := decodeJSON(r, &w); err != nil {
		return model.SimulationConfig{}, err
	}
	return w.toModel(), nil
}

// dateField decodes an ISO-8601 YYYY-MM-DD string into a time.Time.
func dateField(s, field string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, apperr.Newf(apperr.ConfigInvalid, "%s must be an ISO-8601 date (YYYY-MM-DD): %v", field, err)
	}
	return t, nil
}
