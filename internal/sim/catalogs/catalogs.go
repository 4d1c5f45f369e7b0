package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Anchor clips every scene needs; the loader refuses a catalog without them.
const (
	ClipIdle = "IDLE"
	ClipWalk = "WALK"
)

// DefaultVariant is the deterministic fallback of the weighted draw.
const DefaultVariant = "HELLO_WAVE"

// Variant behaviors.
const (
	BehaviorStatic       = "STATIC"
	BehaviorWalkTogether = "WALK_TOGETHER"
)

// Speech cue conditions.
const (
	CueCondNone  = ""
	CueCondNight = "night"
	CueCondFar   = "far"
)

// Time-of-day flavors.
const (
	TimeAny     = ""
	TimeMorning = "morning"
	TimeEvening = "evening"
	TimeNight   = "night"
)

type Catalogs struct {
	Clips    ClipCatalog
	Variants VariantCatalog
	Speech   SpeechCatalog
}

type ClipCatalog struct {
	Palette  []string // sorted ids
	Gestures []string // sorted ids of gesture-eligible clips
	Defs     map[string]ClipDef
	Digest   string
}

type ClipDef struct {
	ID   string `json:"id"`
	Loop bool   `json:"loop"`
	// Ticks is the clip length for non-loop clips (used for completion
	// estimates). Zero means the scene falls back to its default estimate.
	Ticks int `json:"ticks,omitempty"`
	// Gesture marks a one-shot clip eligible for the random walker flourish.
	Gesture bool `json:"gesture,omitempty"`
}

type VariantCatalog struct {
	IDs    []string // sorted ids, the stable draw order
	ByID   map[string]VariantDef
	Digest string
}

type VariantDef struct {
	ID         string  `json:"id"`
	Category   string  `json:"category"`
	Title      string  `json:"title,omitempty"`
	BaseWeight float64 `json:"base_weight"`
	// Behavior is STATIC (default) or WALK_TOGETHER.
	Behavior string `json:"behavior,omitempty"`
	// TimeOfDay flavors the variant for a clock bucket: "", "morning",
	// "evening" or "night" (evening and night share the same bucket).
	TimeOfDay string `json:"time_of_day,omitempty"`

	Open  []ActorClip `json:"open,omitempty"`
	Close []ActorClip `json:"close,omitempty"`
	Cues  []SpeechCue `json:"cues,omitempty"`
}

type ActorClip struct {
	Actor int    `json:"actor"`
	Clip  string `json:"clip"`
}

type SpeechCue struct {
	Actor   int    `json:"actor"`
	AtTicks int    `json:"at_ticks"`
	Text    string `json:"text"`
	Alt     string `json:"alt,omitempty"`
	Cond    string `json:"cond,omitempty"`
}

type SpeechCatalog struct {
	IDs    []string
	ByID   map[string]SpeechSet
	Digest string
}

type SpeechSet struct {
	ID    string   `json:"id"`
	Lines []string `json:"lines"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadClips(filepath.Join(configDir, "clips.json"), &c.Clips); err != nil {
		return nil, err
	}
	if err := loadVariants(filepath.Join(configDir, "interactions.json"), &c.Variants); err != nil {
		return nil, err
	}
	if err := loadSpeech(filepath.Join(configDir, "speech.json"), &c.Speech); err != nil {
		return nil, err
	}

	if err := checkClipRefs(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadClips(path string, out *ClipCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ClipDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("clips.json: %w", err)
	}
	out.Defs = map[string]ClipDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("clips.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("clips.json: duplicate id %s", d.ID)
		}
		if d.Gesture && d.Loop {
			return fmt.Errorf("clips.json: %s: gesture clips must not loop", d.ID)
		}
		out.Defs[d.ID] = d
	}
	for _, anchor := range []string{ClipIdle, ClipWalk} {
		d, ok := out.Defs[anchor]
		if !ok {
			return fmt.Errorf("clips.json: missing %s", anchor)
		}
		if !d.Loop {
			return fmt.Errorf("clips.json: %s must loop", anchor)
		}
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids

	for _, id := range ids {
		if out.Defs[id].Gesture {
			out.Gestures = append(out.Gestures, id)
		}
	}
	return nil
}

func loadVariants(path string, out *VariantCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []VariantDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("interactions.json: %w", err)
	}
	if len(defs) == 0 {
		return fmt.Errorf("interactions.json: no variants")
	}
	out.ByID = map[string]VariantDef{}
	for _, v := range defs {
		if v.ID == "" {
			return fmt.Errorf("interactions.json: empty id")
		}
		if _, dup := out.ByID[v.ID]; dup {
			return fmt.Errorf("interactions.json: duplicate id %s", v.ID)
		}
		if v.BaseWeight <= 0 {
			return fmt.Errorf("interactions.json: %s: base_weight must be > 0", v.ID)
		}
		switch v.Behavior {
		case "", BehaviorStatic, BehaviorWalkTogether:
		default:
			return fmt.Errorf("interactions.json: %s: unknown behavior %q", v.ID, v.Behavior)
		}
		switch v.TimeOfDay {
		case TimeAny, TimeMorning, TimeEvening, TimeNight:
		default:
			return fmt.Errorf("interactions.json: %s: unknown time_of_day %q", v.ID, v.TimeOfDay)
		}
		for _, cue := range v.Cues {
			if cue.Actor != 0 && cue.Actor != 1 {
				return fmt.Errorf("interactions.json: %s: cue actor must be 0 or 1", v.ID)
			}
			if cue.AtTicks < 0 {
				return fmt.Errorf("interactions.json: %s: cue at_ticks must be >= 0", v.ID)
			}
			switch cue.Cond {
			case CueCondNone, CueCondNight, CueCondFar:
			default:
				return fmt.Errorf("interactions.json: %s: unknown cue cond %q", v.ID, cue.Cond)
			}
		}
		for _, ac := range append(append([]ActorClip{}, v.Open...), v.Close...) {
			if ac.Actor != 0 && ac.Actor != 1 {
				return fmt.Errorf("interactions.json: %s: clip actor must be 0 or 1", v.ID)
			}
			if ac.Clip == "" {
				return fmt.Errorf("interactions.json: %s: empty clip", v.ID)
			}
		}
		out.ByID[v.ID] = v
	}
	if _, ok := out.ByID[DefaultVariant]; !ok {
		return fmt.Errorf("interactions.json: missing default variant %s", DefaultVariant)
	}

	ids := make([]string, 0, len(out.ByID))
	for id := range out.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.IDs = ids
	return nil
}

func loadSpeech(path string, out *SpeechCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		// Ambient speech is optional.
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			out.ByID = map[string]SpeechSet{}
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)

	var sets []SpeechSet
	if err := json.Unmarshal(raw, &sets); err != nil {
		return fmt.Errorf("speech.json: %w", err)
	}
	out.ByID = map[string]SpeechSet{}
	for _, s := range sets {
		if s.ID == "" {
			return fmt.Errorf("speech.json: empty id")
		}
		if len(s.Lines) == 0 {
			return fmt.Errorf("speech.json: %s: no lines", s.ID)
		}
		out.ByID[s.ID] = s
	}

	ids := make([]string, 0, len(out.ByID))
	for id := range out.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.IDs = ids
	return nil
}

// checkClipRefs rejects variants whose choreography names a clip the clip
// catalog does not carry. Unknown clips at play time degrade to idle; a bad
// catalog should fail at load instead.
func checkClipRefs(c *Catalogs) error {
	for _, id := range c.Variants.IDs {
		v := c.Variants.ByID[id]
		for _, ac := range append(append([]ActorClip{}, v.Open...), v.Close...) {
			if _, ok := c.Clips.Defs[ac.Clip]; !ok {
				return fmt.Errorf("interactions.json: %s: unknown clip %s", id, ac.Clip)
			}
		}
	}
	return nil
}
