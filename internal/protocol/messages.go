package protocol

// SUBSCRIBE (client -> server). First message on the viewer WS connection;
// can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// FrameEvery asks for every Nth frame (1 = every tick). Viewers that
	// interpolate client-side can subscribe at a lower rate.
	FrameEvery int `json:"frame_every,omitempty"`

	// WithEvents includes timeline events in frames (default true when
	// the field is absent; an explicit false turns them off).
	WithEvents *bool `json:"with_events,omitempty"`
}

// FRAME (server -> client). Sent every tick (or every FrameEvery ticks).
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Hour   float64 `json:"hour"`
	Paused bool    `json:"paused,omitempty"`
	Speed  float64 `json:"speed,omitempty"`

	Avatars     []AvatarState     `json:"avatars"`
	Interaction *InteractionState `json:"interaction,omitempty"`
	Events      []TimelineEvent   `json:"events,omitempty"`
}

type AvatarState struct {
	Idx   int    `json:"idx"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`

	Pos [2]float64 `json:"pos"`
	Yaw float64    `json:"yaw"`

	Clip     string `json:"clip,omitempty"`
	PrevClip string `json:"prev_clip,omitempty"`
	FadeLeft int    `json:"fade_left,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

type InteractionState struct {
	ID        uint64 `json:"id"`
	Variant   string `json:"variant"`
	A         int    `json:"a"`
	B         int    `json:"b"`
	Phase     string `json:"phase"`
	StartTick uint64 `json:"start_tick"`
	EndsTick  uint64 `json:"ends_tick,omitempty"`
}

type TimelineEvent struct {
	Tick uint64  `json:"tick"`
	Hour float64 `json:"hour"`
	Kind string  `json:"kind"`

	// ID is set on interaction events and matches InteractionState.ID.
	ID uint64 `json:"id,omitempty"`

	Actor   *int   `json:"actor,omitempty"`
	A       *int   `json:"a,omitempty"`
	B       *int   `json:"b,omitempty"`
	Variant string `json:"variant,omitempty"`
	Text    string `json:"text,omitempty"`
	Phase   string `json:"phase,omitempty"`
}

// COMMAND (client -> server). Viewer input events: pause/resume, speed, and
// the debug spawn/remove/trigger controls.
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Cmd             string `json:"cmd"`

	Speed   float64 `json:"speed,omitempty"`
	Name    string  `json:"name,omitempty"`
	Avatar  *int    `json:"avatar,omitempty"`
	A       *int    `json:"a,omitempty"`
	B       *int    `json:"b,omitempty"`
	Variant string  `json:"variant,omitempty"`
}

// ACK (server -> client). Reply to a COMMAND.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Tick            uint64 `json:"tick,omitempty"`
}

// HTTP response for GET /v1/viewer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	Tick            uint64         `json:"tick"`
	SceneParams     SceneParams    `json:"scene_params"`
	Avatars         []AvatarState  `json:"avatars"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type SceneParams struct {
	TickRateHz int        `json:"tick_rate_hz"`
	DayTicks   int        `json:"day_ticks"`
	StartHour  float64    `json:"start_hour"`
	Boundary   float64    `json:"boundary"`
	Landmark   [2]float64 `json:"landmark"`
	Seed       int64      `json:"seed"`
}

type CatalogDigests struct {
	Clips    DigestRef `json:"clips"`
	Variants DigestRef `json:"variants"`
	Speech   DigestRef `json:"speech"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}
