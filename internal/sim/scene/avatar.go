package scene

import (
	"errors"

	"avatarium/internal/sim/catalogs"
)

var (
	// ErrNotReady is returned by avatar mutations attempted before the model
	// finished its simulated load.
	ErrNotReady = errors.New("avatar not ready")

	// ErrUnknownClip is returned when a clip id is not in the clip catalog.
	ErrUnknownClip = errors.New("unknown clip")
)

// Avatar is one character in the scene: a transform, a load countdown and a
// small crossfading animation player. All fields are owned by the scene loop
// goroutine.
type Avatar struct {
	Idx  int
	Name string

	Pos Vec2
	Yaw float64

	ready    bool
	loadLeft int

	owner Owner

	clip     string
	prevClip string
	fadeLeft int

	oneShot   bool
	ticksLeft int
	onDone    func(clip string)

	clips            *catalogs.ClipCatalog
	defaultClipTicks int
}

func newAvatar(idx int, name string, pos Vec2, yaw float64, loadTicks int, clips *catalogs.ClipCatalog, defaultClipTicks int) *Avatar {
	return &Avatar{
		Idx:              idx,
		Name:             name,
		Pos:              pos,
		Yaw:              yaw,
		loadLeft:         loadTicks,
		owner:            OwnerSelf,
		clips:            clips,
		defaultClipTicks: defaultClipTicks,
	}
}

// Ready reports whether the model finished loading.
func (a *Avatar) Ready() bool { return a != nil && a.ready }

// Loading reports whether the model load is still in flight.
func (a *Avatar) Loading() bool { return a != nil && !a.ready && a.loadLeft > 0 }

// Owner reports which system currently drives the avatar.
func (a *Avatar) Owner() Owner {
	if a == nil {
		return OwnerSelf
	}
	return a.owner
}

// Clip returns the active clip id ("" before the first play).
func (a *Avatar) Clip() string {
	if a == nil {
		return ""
	}
	return a.clip
}

// PlayAnimation switches the avatar to clip, crossfading from whatever was
// playing over fadeTicks. A looping clip that is already active is left
// alone; one-shot clips always restart. Completion of a one-shot is tracked
// from the catalog clip length, falling back to the coarse default estimate
// when the catalog does not declare one.
func (a *Avatar) PlayAnimation(clip string, fadeTicks int) error {
	if a == nil || !a.ready {
		return ErrNotReady
	}
	def, ok := a.clips.Defs[clip]
	if !ok {
		return ErrUnknownClip
	}
	if def.Loop && a.clip == clip && !a.oneShot {
		return nil
	}
	if a.clip != "" && a.clip != clip && fadeTicks > 0 {
		a.prevClip = a.clip
		a.fadeLeft = fadeTicks
	} else if a.clip != clip {
		a.prevClip = ""
		a.fadeLeft = 0
	}
	a.clip = clip
	a.oneShot = !def.Loop
	a.ticksLeft = 0
	if a.oneShot {
		a.ticksLeft = def.Ticks
		if a.ticksLeft <= 0 {
			a.ticksLeft = a.defaultClipTicks
		}
	}
	return nil
}

// OnFinished arms fn to fire once when the current one-shot clip completes.
// Arming replaces any pending callback; looping clips never fire it.
func (a *Avatar) OnFinished(fn func(clip string)) {
	if a == nil {
		return
	}
	a.onDone = fn
}

// tickLoad counts down the simulated model load and reports true on the tick
// the avatar becomes ready.
func (a *Avatar) tickLoad() bool {
	if a.ready {
		return false
	}
	if a.loadLeft > 0 {
		a.loadLeft--
	}
	if a.loadLeft <= 0 {
		a.ready = true
		return true
	}
	return false
}

// tickAnimation advances crossfade and one-shot bookkeeping by one tick. The
// pending finish callback fires exactly once, on the tick the one-shot ends.
func (a *Avatar) tickAnimation() {
	if !a.ready {
		return
	}
	if a.fadeLeft > 0 {
		a.fadeLeft--
		if a.fadeLeft == 0 {
			a.prevClip = ""
		}
	}
	if a.oneShot && a.ticksLeft > 0 {
		a.ticksLeft--
		if a.ticksLeft == 0 {
			a.oneShot = false
			if fn := a.onDone; fn != nil {
				a.onDone = nil
				fn(a.clip)
			}
		}
	}
}
