package scene

import "avatarium/internal/sim/tuning"

// Config collects every knob the scene loop and its systems read. Zero fields
// are filled by applyDefaults, so tests can construct partial configs. The
// JSON form is what the server records alongside the tick log so a replay can
// rebuild an identical scene.
type Config struct {
	ID         string `json:"id"`
	Seed       int64  `json:"seed"`
	TickRateHz int    `json:"tick_rate_hz"`

	// Virtual clock: DayTicks real ticks map to 24 virtual hours.
	DayTicks  int     `json:"day_ticks"`
	StartHour float64 `json:"start_hour"`

	// Square ground plane, |x| and |z| up to Boundary. Wander targets stay
	// inside Boundary*SafeFrac; the hard clamp sits at Boundary-Margin.
	Boundary float64 `json:"boundary"`
	SafeFrac float64 `json:"safe_frac"`
	Margin   float64 `json:"margin"`
	Landmark Vec2    `json:"landmark"`

	// Walker.
	WalkSpeed             float64 `json:"walk_speed"`
	FadeTicks             int     `json:"fade_ticks"`
	ArriveRadius          float64 `json:"arrive_radius"`
	SpecialChance         float64 `json:"special_chance"`
	WalkTicksMin          int     `json:"walk_ticks_min"`
	WalkTicksMax          int     `json:"walk_ticks_max"`
	StopTicksMin          int     `json:"stop_ticks_min"`
	StopTicksMax          int     `json:"stop_ticks_max"`
	YawRate               float64 `json:"yaw_rate"`
	YawGate               float64 `json:"yaw_gate"`
	RetargetDebounceTicks int     `json:"retarget_debounce_ticks"`

	// Interactions.
	InteractDist   float64 `json:"interact_dist"`
	ApproachRadius float64 `json:"approach_radius"`
	DurationTicks  int     `json:"duration_ticks"`
	CooldownHours  float64 `json:"cooldown_hours"`
	FarDist        float64 `json:"far_dist"`
	CloseDist      float64 `json:"close_dist"`
	LandmarkDist   float64 `json:"landmark_dist"`

	// Avatars.
	AvatarCount      int      `json:"avatar_count"`
	AvatarNames      []string `json:"avatar_names,omitempty"`
	LoadTicks        int      `json:"load_ticks"`
	LoadTicksJitter  int      `json:"load_ticks_jitter"`
	DefaultClipTicks int      `json:"default_clip_ticks"`

	DigestEveryTicks int `json:"digest_every_ticks"`
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = "default"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 60
	}
	if c.DayTicks <= 0 {
		c.DayTicks = 14_400
	}
	if c.StartHour < 0 || c.StartHour >= 24 {
		c.StartHour = 0
	}
	if c.Boundary <= 0 {
		c.Boundary = 9
	}
	if c.SafeFrac <= 0 || c.SafeFrac > 1 {
		c.SafeFrac = 0.85
	}
	if c.Margin <= 0 {
		c.Margin = 0.5
	}
	if c.WalkSpeed <= 0 {
		c.WalkSpeed = 0.035
	}
	if c.FadeTicks <= 0 {
		c.FadeTicks = 18
	}
	if c.ArriveRadius <= 0 {
		c.ArriveRadius = 0.15
	}
	if c.SpecialChance <= 0 || c.SpecialChance > 1 {
		c.SpecialChance = 0.33
	}
	if c.WalkTicksMin <= 0 {
		c.WalkTicksMin = 120
	}
	if c.WalkTicksMax <= 0 {
		c.WalkTicksMax = 300
	}
	if c.StopTicksMin <= 0 {
		c.StopTicksMin = 60
	}
	if c.StopTicksMax <= 0 {
		c.StopTicksMax = 180
	}
	if c.YawRate <= 0 {
		c.YawRate = 0.1
	}
	if c.YawGate <= 0 {
		c.YawGate = 0.1
	}
	if c.RetargetDebounceTicks <= 0 {
		c.RetargetDebounceTicks = 60
	}
	if c.InteractDist <= 0 {
		c.InteractDist = 0.8
	}
	if c.ApproachRadius <= 0 {
		c.ApproachRadius = 0.1
	}
	if c.DurationTicks <= 0 {
		c.DurationTicks = 450
	}
	if c.CooldownHours <= 0 {
		c.CooldownHours = 4
	}
	if c.FarDist <= 0 {
		c.FarDist = 7
	}
	if c.CloseDist <= 0 {
		c.CloseDist = 3
	}
	if c.LandmarkDist <= 0 {
		c.LandmarkDist = 5
	}
	if c.AvatarCount <= 0 {
		c.AvatarCount = 2
	}
	if c.LoadTicks <= 0 {
		c.LoadTicks = 90
	}
	if c.LoadTicksJitter < 0 {
		c.LoadTicksJitter = 0
	}
	if c.DefaultClipTicks <= 0 {
		c.DefaultClipTicks = 120
	}
	if c.DigestEveryTicks <= 0 {
		c.DigestEveryTicks = 600
	}
}

// FromTuning maps a loaded tuning file onto a Config. Unset tuning fields
// stay zero and pick up defaults in New.
func FromTuning(t *tuning.Tuning) Config {
	if t == nil {
		return Config{}
	}
	cfg := Config{
		TickRateHz: t.TickRateHz,
		DayTicks:   t.DayTicks,
		StartHour:  t.StartHour,
		Boundary:   t.Boundary,
		SafeFrac:   t.SafeFrac,
		Margin:     t.Margin,

		WalkSpeed:             t.Walk.Speed,
		FadeTicks:             t.Walk.FadeTicks,
		ArriveRadius:          t.Walk.ArriveRadius,
		SpecialChance:         t.Walk.SpecialChance,
		WalkTicksMin:          t.Walk.WalkTicksMin,
		WalkTicksMax:          t.Walk.WalkTicksMax,
		StopTicksMin:          t.Walk.StopTicksMin,
		StopTicksMax:          t.Walk.StopTicksMax,
		YawRate:               t.Walk.YawRate,
		YawGate:               t.Walk.YawGate,
		RetargetDebounceTicks: t.Walk.RetargetDebounceTicks,

		InteractDist:   t.Interaction.InteractDist,
		ApproachRadius: t.Interaction.ApproachRadius,
		DurationTicks:  t.Interaction.DurationTicks,
		CooldownHours:  t.Interaction.CooldownHours,
		FarDist:        t.Interaction.FarDist,
		CloseDist:      t.Interaction.CloseDist,
		LandmarkDist:   t.Interaction.LandmarkDist,

		AvatarCount:      t.Avatars.Count,
		AvatarNames:      append([]string(nil), t.Avatars.Names...),
		LoadTicks:        t.Avatars.LoadTicks,
		LoadTicksJitter:  t.Avatars.LoadTicksJitter,
		DefaultClipTicks: t.Avatars.DefaultClipTicks,

		DigestEveryTicks: t.DigestEveryTicks,
	}
	if len(t.Landmark) == 2 {
		cfg.Landmark = Vec2{X: t.Landmark[0], Z: t.Landmark[1]}
	}
	return cfg
}
