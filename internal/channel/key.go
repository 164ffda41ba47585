package channel

import (
	"sync/atomic"

	"github.com/cbegin/xsynth-go/internal/soundfont"
	"github.com/cbegin/xsynth-go/internal/voice"
)

// key owns the voice buffer for one of the channel's 128 MIDI keys. It
// maintains its own event queue so a render pass can drain and apply every
// queued note event before mixing.
type key struct {
	index uint8

	voices           *VoiceBuffer
	sharedVoiceCount *atomic.Int64
	lastVoiceCount   int

	events   []KeyNoteEvent
	scratch  []float32
}

func newKey(index uint8, options Options, sharedVoiceCount *atomic.Int64) *key {
	return &key{
		index:            index,
		voices:           NewVoiceBuffer(options),
		sharedVoiceCount: sharedVoiceCount,
	}
}

func (k *key) queue(ev KeyNoteEvent) {
	k.events = append(k.events, ev)
}

// drainEvents applies every queued note event by spawning/releasing voices
// via the channel's soundfont binding.
func (k *key) drainEvents(control voice.ControlData, sf *soundfont.ChannelSoundfont, maxLayers *int) {
	for _, ev := range k.events {
		switch ev.Kind {
		case KeyEventOn:
			voices := sf.SpawnAttack(control, k.index, ev.Vel)
			k.voices.PushVoices(voices, maxLayers)
		case KeyEventOff:
			if vel, ok := k.voices.ReleaseNextVoice(); ok {
				voices := sf.SpawnRelease(control, k.index, vel)
				k.voices.PushVoices(voices, maxLayers)
			}
		case KeyEventAllOff:
			for {
				vel, ok := k.voices.ReleaseNextVoice()
				if !ok {
					break
				}
				voices := sf.SpawnRelease(control, k.index, vel)
				k.voices.PushVoices(voices, maxLayers)
			}
		case KeyEventAllKilled:
			k.voices.KillAll()
		}
	}
	k.events = k.events[:0]

	// An instant KillAll can empty the buffer, and empty keys are not
	// rendered, so sync the shared counter here as well.
	count := k.voices.VoiceCount()
	k.sharedVoiceCount.Add(int64(count - k.lastVoiceCount))
	k.lastVoiceCount = count
}

func (k *key) processControls(control voice.ControlData) {
	k.voices.ForEachVoice(func(v voice.Voice) { v.ProcessControls(control) })
}

// renderTo mixes every live voice for this key into out and reclaims
// ended voices, keeping the shared channel-wide voice counter in sync.
func (k *key) renderTo(out []float32) {
	if !k.voices.HasVoices() {
		return
	}

	k.voices.ForEachVoice(func(v voice.Voice) { v.RenderTo(out) })
	k.voices.RemoveEndedVoices()

	count := k.voices.VoiceCount()
	k.sharedVoiceCount.Add(int64(count - k.lastVoiceCount))
	k.lastVoiceCount = count
}

func (k *key) hasVoices() bool { return k.voices.HasVoices() }

func (k *key) setDamper(damper bool) { k.voices.SetDamper(damper) }

func (k *key) ensureScratch(n int) []float32 {
	if cap(k.scratch) < n {
		k.scratch = make([]float32, n)
	}
	scratch := k.scratch[:n]
	for i := range scratch {
		scratch[i] = 0
	}
	return scratch
}
