// Package recording persists the immutable parameters of one scene run
// (params.json in the scene data dir) so a replay can rebuild an identical
// scene and verify it against the recorded tick log.
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"avatarium/internal/protocol"
	"avatarium/internal/sim/catalogs"
	"avatarium/internal/sim/scene"
)

const paramsVersion = 1

// Params captures everything a replay needs up front: the effective scene
// config (post-defaults) and the digests of the catalogs the run used.
type Params struct {
	Version         int          `json:"version"`
	ProtocolVersion string       `json:"protocol_version"`
	RecordedAt      string       `json:"recorded_at"`
	Scene           scene.Config `json:"scene"`
	Catalogs        Digests      `json:"catalogs"`
}

type Digests struct {
	Clips    string `json:"clips"`
	Variants string `json:"variants"`
	Speech   string `json:"speech"`
}

func ParamsPath(sceneDir string) string { return filepath.Join(sceneDir, "params.json") }

// Capture builds the params for a freshly constructed scene.
func Capture(s *scene.Scene, cats *catalogs.Catalogs) Params {
	return Params{
		Version:         paramsVersion,
		ProtocolVersion: protocol.Version,
		RecordedAt:      time.Now().UTC().Format(time.RFC3339),
		Scene:           s.Config(),
		Catalogs: Digests{
			Clips:    cats.Clips.Digest,
			Variants: cats.Variants.Digest,
			Speech:   cats.Speech.Digest,
		},
	}
}

func Write(sceneDir string, p Params) error {
	if err := os.MkdirAll(sceneDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ParamsPath(sceneDir), append(b, '\n'), 0o644)
}

func Read(sceneDir string) (Params, error) {
	var p Params
	b, err := os.ReadFile(ParamsPath(sceneDir))
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("params.json: %w", err)
	}
	if p.Version != paramsVersion {
		return p, fmt.Errorf("params.json version %d, want %d", p.Version, paramsVersion)
	}
	return p, nil
}

// VerifyCatalogs checks that the given catalogs are byte-for-byte the ones
// the run was recorded with. A digest mismatch makes replay divergence a
// certainty, so callers should refuse to proceed.
func (p Params) VerifyCatalogs(cats *catalogs.Catalogs) error {
	if cats.Clips.Digest != p.Catalogs.Clips {
		return fmt.Errorf("clips catalog digest %s, recorded %s", short(cats.Clips.Digest), short(p.Catalogs.Clips))
	}
	if cats.Variants.Digest != p.Catalogs.Variants {
		return fmt.Errorf("interactions catalog digest %s, recorded %s", short(cats.Variants.Digest), short(p.Catalogs.Variants))
	}
	if cats.Speech.Digest != p.Catalogs.Speech {
		return fmt.Errorf("speech catalog digest %s, recorded %s", short(cats.Speech.Digest), short(p.Catalogs.Speech))
	}
	return nil
}

func short(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
