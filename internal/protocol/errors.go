package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Command layer.
	ErrBadCommand     = "E_BAD_COMMAND"
	ErrNotReady       = "E_NOT_READY"
	ErrNoPair         = "E_NO_PAIR"
	ErrCooldown       = "E_COOLDOWN"
	ErrBusy           = "E_BUSY"
	ErrUnknownVariant = "E_UNKNOWN_VARIANT"
	ErrUnknownAvatar  = "E_UNKNOWN_AVATAR"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadCommand:      {},
	ErrNotReady:        {},
	ErrNoPair:          {},
	ErrCooldown:        {},
	ErrBusy:            {},
	ErrUnknownVariant:  {},
	ErrUnknownAvatar:   {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
