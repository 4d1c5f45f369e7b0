package scene

// SceneMetrics is a point-in-time snapshot published by the scene loop and
// readable from any goroutine.
type SceneMetrics struct {
	Tick   uint64  `json:"tick"`
	Hour   float64 `json:"hour"`
	Paused bool    `json:"paused"`
	Speed  float64 `json:"speed"`

	Avatars int `json:"avatars"`
	Ready   int `json:"ready"`
	Viewers int `json:"viewers"`

	ActiveVariant string `json:"active_variant,omitempty"`
	ActivePhase   string `json:"active_phase,omitempty"`

	Interactions uint64 `json:"interactions_total"`
	Events       uint64 `json:"events_total"`

	StepMicros int64 `json:"step_us"`
}

// Metrics returns the latest published snapshot.
func (s *Scene) Metrics() SceneMetrics {
	m, _ := s.metrics.Load().(SceneMetrics)
	return m
}
