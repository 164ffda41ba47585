package channel

import "github.com/cbegin/xsynth-go/internal/voice"

// Options configures polyphony behavior for a single key's voice buffer.
type Options struct {
	// MaxLayers caps how many voices may be held at once per key; nil means
	// unbounded. Exceeding the cap evicts the quietest group.
	MaxLayers *int
	// FadeOutKilling, when true, evicts/kills voices with a short fade
	// (ReleaseKill) instead of dropping them instantly.
	FadeOutKilling bool
}

// groupVoice is one voice tagged with the id of the note-on (or note-off
// release layer) event that spawned it; voices that share an id are always
// released/evicted together.
type groupVoice struct {
	id    uint64
	voice voice.Voice
}

// VoiceBuffer holds every live voice for a single MIDI key, grouped by the
// event that spawned them, with polyphony-limit eviction and damper
// hold/release semantics.
type VoiceBuffer struct {
	options      Options
	idCounter    uint64
	buffer       []groupVoice
	damperHeld   bool
	heldByDamper []uint64
}

func NewVoiceBuffer(options Options) *VoiceBuffer {
	return &VoiceBuffer{options: options}
}

func (b *VoiceBuffer) nextID() uint64 {
	b.idCounter++
	return b.idCounter
}

// PushVoices adds a new voice group (all voices spawned by a single note
// event) and, if a polyphony limit is configured, evicts quietest groups
// until the buffer fits.
func (b *VoiceBuffer) PushVoices(voices []voice.Voice, maxVoices *int) {
	if len(voices) == 0 {
		return
	}
	id := b.nextID()
	for _, v := range voices {
		b.buffer = append(b.buffer, groupVoice{id: id, voice: v})
	}

	if maxVoices == nil {
		return
	}
	if len(voices) > *maxVoices {
		b.popQuietestVoiceGroup(id)
		return
	}
	if b.options.FadeOutKilling {
		for b.activeCount() > *maxVoices {
			b.popQuietestVoiceGroup(id)
		}
	} else {
		for len(b.buffer) > *maxVoices {
			b.popQuietestVoiceGroup(id)
		}
	}
}

// popQuietestVoiceGroup evicts the quietest group (by velocity) other than
// ignoredID and any already-killed group.
func (b *VoiceBuffer) popQuietestVoiceGroup(ignoredID uint64) {
	if len(b.buffer) == 0 {
		return
	}

	quietestVel := uint8(255)
	quietestIndex := 0
	var quietestID uint64
	count := 0

	for i, gv := range b.buffer {
		if gv.id == ignoredID || gv.voice.IsKilled() {
			continue
		}
		vel := gv.voice.Velocity()
		if quietestID == gv.id {
			count++
		} else if vel < quietestVel || i == 0 {
			quietestVel = vel
			quietestIndex = i
			quietestID = gv.id
			count = 1
		}
	}

	if count == 0 {
		return
	}

	if b.options.FadeOutKilling {
		for i := quietestIndex; i < quietestIndex+count; i++ {
			b.buffer[i].voice.SignalRelease(voice.ReleaseKill)
		}
	} else {
		b.buffer = append(b.buffer[:quietestIndex], b.buffer[quietestIndex+count:]...)
	}

	for i, id := range b.heldByDamper {
		if id == quietestID {
			b.heldByDamper = append(b.heldByDamper[:i], b.heldByDamper[i+1:]...)
			break
		}
	}
}

func (b *VoiceBuffer) activeCount() int {
	n := 0
	for _, gv := range b.buffer {
		if !gv.voice.IsKilled() {
			n++
		}
	}
	return n
}

// KillAll either fades out (FadeOutKilling) or instantly drops every voice.
func (b *VoiceBuffer) KillAll() {
	if b.options.FadeOutKilling {
		for _, gv := range b.buffer {
			gv.voice.SignalRelease(voice.ReleaseKill)
		}
		b.idCounter = 0
	} else {
		b.buffer = nil
	}
}

// ReleaseNextVoice releases the first non-releasing group (and every other
// group sharing its id). While the damper is held, the group is instead
// parked in the held-by-damper set and released later by SetDamper(false).
// Returns the released group's velocity, or false if nothing was released.
func (b *VoiceBuffer) ReleaseNextVoice() (uint8, bool) {
	if !b.damperHeld {
		var id uint64
		var vel uint8
		haveID := false
		found := false

		for i := range b.buffer {
			gv := &b.buffer[i]
			if gv.voice.IsReleasing() {
				continue
			}
			if !haveID {
				id = gv.id
				vel = gv.voice.Velocity()
				haveID = true
				found = true
			}
			if gv.id != id {
				break
			}
			gv.voice.SignalRelease(voice.ReleaseStandard)
		}

		return vel, found
	}

	for i := range b.buffer {
		gv := &b.buffer[i]
		if gv.voice.IsReleasing() {
			continue
		}
		if contains(b.heldByDamper, gv.id) {
			continue
		}
		b.heldByDamper = append(b.heldByDamper, gv.id)
		break
	}
	return 0, false
}

func contains(ids []uint64, id uint64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// RemoveEndedVoices drops every voice that has finished playing.
func (b *VoiceBuffer) RemoveEndedVoices() {
	live := b.buffer[:0]
	for _, gv := range b.buffer {
		if !gv.voice.Ended() {
			live = append(live, gv)
		}
	}
	b.buffer = live
}

// ForEachVoice calls fn for every live voice, in buffer order.
func (b *VoiceBuffer) ForEachVoice(fn func(voice.Voice)) {
	for _, gv := range b.buffer {
		fn(gv.voice)
	}
}

func (b *VoiceBuffer) HasVoices() bool { return len(b.buffer) > 0 }
func (b *VoiceBuffer) VoiceCount() int { return len(b.buffer) }

// SetDamper toggles the sustain pedal. Releasing the pedal (true -> false)
// releases every voice group that was held by it.
func (b *VoiceBuffer) SetDamper(damper bool) {
	if b.damperHeld && !damper {
		for _, gv := range b.buffer {
			if contains(b.heldByDamper, gv.id) {
				gv.voice.SignalRelease(voice.ReleaseStandard)
			}
		}
		b.heldByDamper = nil
	}
	b.damperHeld = damper
}
