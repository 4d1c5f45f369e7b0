package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int     `yaml:"tick_rate_hz"`
	DayTicks   int     `yaml:"day_ticks"`
	StartHour  float64 `yaml:"start_hour"`

	Boundary float64   `yaml:"boundary"`
	SafeFrac float64   `yaml:"safe_frac"`
	Margin   float64   `yaml:"margin"`
	Landmark []float64 `yaml:"landmark"`

	Walk        Walk        `yaml:"walk"`
	Interaction Interaction `yaml:"interaction"`
	Avatars     Avatars     `yaml:"avatars"`

	DigestEveryTicks int `yaml:"digest_every_ticks"`
}

type Walk struct {
	Speed                 float64 `yaml:"speed"`
	FadeTicks             int     `yaml:"fade_ticks"`
	ArriveRadius          float64 `yaml:"arrive_radius"`
	SpecialChance         float64 `yaml:"special_chance"`
	WalkTicksMin          int     `yaml:"walk_ticks_min"`
	WalkTicksMax          int     `yaml:"walk_ticks_max"`
	StopTicksMin          int     `yaml:"stop_ticks_min"`
	StopTicksMax          int     `yaml:"stop_ticks_max"`
	YawRate               float64 `yaml:"yaw_rate"`
	YawGate               float64 `yaml:"yaw_gate"`
	RetargetDebounceTicks int     `yaml:"retarget_debounce_ticks"`
}

type Interaction struct {
	InteractDist   float64 `yaml:"interact_dist"`
	ApproachRadius float64 `yaml:"approach_radius"`
	DurationTicks  int     `yaml:"duration_ticks"`
	CooldownHours  float64 `yaml:"cooldown_hours"`
	FarDist        float64 `yaml:"far_dist"`
	CloseDist      float64 `yaml:"close_dist"`
	LandmarkDist   float64 `yaml:"landmark_dist"`
}

type Avatars struct {
	Count            int      `yaml:"count"`
	Names            []string `yaml:"names"`
	LoadTicks        int      `yaml:"load_ticks"`
	LoadTicksJitter  int      `yaml:"load_ticks_jitter"`
	DefaultClipTicks int      `yaml:"default_clip_ticks"`
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
