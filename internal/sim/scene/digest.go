package scene

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// stateDigest hashes everything that feeds future simulation decisions, so
// two scenes with equal digests stay in lockstep under the same command
// stream. Viewer sessions are deliberately excluded.
func (s *Scene) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	s.digestHeader(h, &tmp, nowTick)
	s.digestAvatars(h, &tmp)
	s.digestDirector(h, &tmp)

	return hex.EncodeToString(h.Sum(nil))
}

func (s *Scene) digestHeader(h hashWriter, tmp *[8]byte, nowTick uint64) {
	digestWriteU64(h, tmp, nowTick)
	digestWriteF64(h, tmp, s.vticks)
	digestWriteF64(h, tmp, s.speed)
	h.Write([]byte{boolByte(s.paused)})
	digestWriteStr(h, tmp, s.lastPhase)
}

func (s *Scene) digestAvatars(h hashWriter, tmp *[8]byte) {
	digestWriteU64(h, tmp, uint64(len(s.avatars)))
	for idx, av := range s.avatars {
		digestWriteU64(h, tmp, uint64(idx))
		if av == nil {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1})
		digestWriteStr(h, tmp, av.Name)
		h.Write([]byte{boolByte(av.ready), byte(av.owner), boolByte(av.oneShot)})
		digestWriteI64(h, tmp, int64(av.loadLeft))
		digestWriteF64(h, tmp, av.Pos.X)
		digestWriteF64(h, tmp, av.Pos.Z)
		digestWriteF64(h, tmp, av.Yaw)
		digestWriteStr(h, tmp, av.clip)
		digestWriteStr(h, tmp, av.prevClip)
		digestWriteI64(h, tmp, int64(av.fadeLeft))
		digestWriteI64(h, tmp, int64(av.ticksLeft))

		w := s.walkers[idx]
		if w == nil {
			h.Write([]byte{0})
			continue
		}
		h.Write([]byte{1, boolByte(w.shouldWalk), byte(w.mode), boolByte(w.tmpActive), boolByte(w.tmpHold), boolByte(w.suspended)})
		digestWriteI64(h, tmp, int64(w.frames))
		digestWriteI64(h, tmp, int64(w.duration))
		digestWriteF64(h, tmp, w.target.X)
		digestWriteF64(h, tmp, w.target.Z)
		digestWriteF64(h, tmp, w.tmpTarget.X)
		digestWriteF64(h, tmp, w.tmpTarget.Z)
		digestWriteI64(h, tmp, int64(w.retargetCooldown))
	}
}

func (s *Scene) digestDirector(h hashWriter, tmp *[8]byte) {
	d := s.director
	h.Write([]byte{boolByte(d.started)})
	digestWriteF64(h, tmp, d.lastStartHour)
	digestWriteU64(h, tmp, d.nextID)
	it := d.active
	if it == nil {
		h.Write([]byte{0})
		return
	}
	h.Write([]byte{1})
	digestWriteU64(h, tmp, it.id)
	digestWriteStr(h, tmp, it.variant.ID)
	digestWriteI64(h, tmp, int64(it.a))
	digestWriteI64(h, tmp, int64(it.b))
	h.Write([]byte{byte(it.phase), boolByte(it.arrived[0]), boolByte(it.arrived[1]), boolByte(it.savedWalk[0]), boolByte(it.savedWalk[1])})
	digestWriteI64(h, tmp, int64(it.frames))
	digestWriteF64(h, tmp, it.startDist)
	digestWriteF64(h, tmp, it.shared[0].X)
	digestWriteF64(h, tmp, it.shared[0].Z)
	digestWriteF64(h, tmp, it.shared[1].X)
	digestWriteF64(h, tmp, it.shared[1].Z)
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func digestWriteStr(h hashWriter, tmp *[8]byte, v string) {
	digestWriteU64(h, tmp, uint64(len(v)))
	h.Write([]byte(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
