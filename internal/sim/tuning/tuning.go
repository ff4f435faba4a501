package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`
	DayTicks   int `yaml:"day_ticks"`

	MapRows       int `yaml:"map_rows"`
	MapCols       int `yaml:"map_cols"`
	CoverageBonus int `yaml:"coverage_bonus"`

	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	PlaceWindowTicks  int `yaml:"place_window_ticks"`
	PlaceMax          int `yaml:"place_max"`
	RemoveWindowTicks int `yaml:"remove_window_ticks"`
	RemoveMax         int `yaml:"remove_max"`
	SayWindowTicks    int `yaml:"say_window_ticks"`
	SayMax            int `yaml:"say_max"`
}

// Defaults mirror configs/tuning.yaml; used when resuming from a snapshot
// without a tuning file on disk.
func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         5,
		DayTicks:           6000,
		MapRows:            40,
		MapCols:            40,
		CoverageBonus:      1,
		SnapshotEveryTicks: 3000,
		RateLimits: RateLimits{
			PlaceWindowTicks:  50,
			PlaceMax:          10,
			RemoveWindowTicks: 50,
			RemoveMax:         10,
			SayWindowTicks:    50,
			SayMax:            5,
		},
	}
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
