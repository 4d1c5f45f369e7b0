package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeSubscribe = "SUBSCRIBE"
	TypeFrame     = "FRAME"
	TypeCommand   = "COMMAND"
	TypeAck       = "ACK"
)

// Command kinds carried by COMMAND messages.
const (
	CmdPause    = "PAUSE"
	CmdResume   = "RESUME"
	CmdSetSpeed = "SET_SPEED"
	CmdSpawn    = "SPAWN"
	CmdRemove   = "REMOVE"
	CmdTrigger  = "TRIGGER"
)

// Timeline event kinds.
const (
	EventSpeech           = "SPEECH"
	EventInteractionStart = "INTERACTION_START"
	EventInteractionEnd   = "INTERACTION_END"
	EventDayPhase         = "DAY_PHASE"
	EventSpawn            = "SPAWN"
	EventRemove           = "REMOVE"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
