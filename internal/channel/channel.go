package channel

import (
	"math"
	"sync/atomic"

	"github.com/cbegin/xsynth-go/internal/audioparams"
	"github.com/cbegin/xsynth-go/internal/filter"
	"github.com/cbegin/xsynth-go/internal/soundfont"
	"github.com/cbegin/xsynth-go/internal/voice"
)

// controlEventData is the raw, not-yet-derived MIDI control-change state:
// RPN selection bytes, pitch bend sensitivity/value, volume/pan/expression,
// and the optional cutoff override from CC 0x4A.
type controlEventData struct {
	selectedLSB, selectedMSB int8
	pbSensitivityLSB         uint8
	pbSensitivityMSB         uint8
	pitchBendSensitivity     float32
	pitchBendValue           float32
	pitchBendSemitones       float32

	fineTuneMSB        uint8
	fineTuneLSB        uint8
	fineTuneCents       float32
	coarseTuneMSB       uint8
	coarseTuneSemitones float32

	volume     float32
	pan        float32
	expression float32
	cutoff     *float32
}

func newControlEventData() controlEventData {
	return controlEventData{
		selectedLSB:      -1,
		selectedMSB:      -1,
		pbSensitivityMSB: 2,
		pitchBendSensitivity: 2.0,
		fineTuneMSB:   64, // centered: 0 cents
		coarseTuneMSB: 64, // centered: 0 semitones
		volume:           1.0,
		pan:              0.5,
		expression:       1.0,
	}
}

// Stats exposes the live voice count for a channel, safe to read
// concurrently with rendering.
type Stats struct {
	voiceCount *atomic.Int64
}

func (s Stats) VoiceCount() int64 { return s.voiceCount.Load() }

// VoiceChannel is one of the synth's MIDI channels: 128 keys, their own
// control state, a soundfont binding, and a post-mix cutoff filter.
type VoiceChannel struct {
	stream  audioparams.StreamParams
	options Options
	maxLayers *int

	keys []*key

	soundfont *soundfont.ChannelSoundfont

	control       controlEventData
	voiceControl  voice.ControlData

	cutoff *filter.Stereo

	voiceCount atomic.Int64

	percussion  bool
	bankMSB     uint8
	bankLSB     uint8
}

// New creates a channel with 128 idle keys, default control state, and no
// soundfont bound (SetSoundfonts must be called before it can spawn voices).
func New(stream audioparams.StreamParams, options Options) *VoiceChannel {
	c := &VoiceChannel{
		stream:    stream,
		options:   options,
		maxLayers: options.MaxLayers,
		soundfont: soundfont.NewChannelSoundfont(),
		control:   newControlEventData(),
		voiceControl: voice.ControlData{PitchMultiplier: 1},
	}
	c.keys = make([]*key, 128)
	for i := range c.keys {
		c.keys[i] = newKey(uint8(i), options, &c.voiceCount)
	}
	return c
}

// SetMaxLayers bounds polyphony per key; nil removes the limit.
func (c *VoiceChannel) SetMaxLayers(max *int) { c.maxLayers = max }

// SetPercussionMode forces every program change on this channel to select
// from the drum bank (128) regardless of any bank-select CC received,
// mirroring the conventional MIDI channel-10 drum track.
func (c *VoiceChannel) SetPercussionMode(percussion bool) { c.percussion = percussion }

// SetSoundfonts rebinds the channel to a new soundfont stack, searched in
// priority order.
func (c *VoiceChannel) SetSoundfonts(soundfonts []soundfont.Base) {
	c.soundfont.SetSoundfonts(soundfonts)
}

// Stats returns a read-only, concurrency-safe view of the channel's voice
// count.
func (c *VoiceChannel) Stats() Stats { return Stats{voiceCount: &c.voiceCount} }

// SendAudio queues a note-level event for its key (or, for All* events,
// every key).
func (c *VoiceChannel) SendAudio(ev AudioEvent) {
	switch ev.Kind {
	case AudioEventNoteOn:
		c.keys[ev.Key].queue(KeyNoteEvent{Kind: KeyEventOn, Vel: ev.Vel})
	case AudioEventNoteOff:
		c.keys[ev.Key].queue(KeyNoteEvent{Kind: KeyEventOff})
	case AudioEventAllNotesOff:
		for _, k := range c.keys {
			k.queue(KeyNoteEvent{Kind: KeyEventAllOff})
		}
	case AudioEventAllNotesKilled:
		for _, k := range c.keys {
			k.queue(KeyNoteEvent{Kind: KeyEventAllKilled})
		}
	case AudioEventControl:
		c.processControlEvent(ev.Control)
	case AudioEventResetControl:
		c.resetControl()
	case AudioEventProgramChange:
		bank := c.bankMSB
		if c.percussion {
			bank = 128
		}
		c.soundfont.ChangeProgram(bank, ev.Preset)
	}
}

func (c *VoiceChannel) propagateVoiceControls() {
	for _, k := range c.keys {
		k.processControls(c.voiceControl)
	}
}

// processControlEvent mirrors the original MIDI CC table: RPN-gated pitch
// bend sensitivity, volume/pan/expression, damper, attack/release override,
// cutoff, and the three panic/reset controllers.
func (c *VoiceChannel) processControlEvent(ev ControlEvent) {
	switch ev.Kind {
	case ControlEventRaw:
		c.processRawControl(ev.Controller, ev.Value)
	case ControlEventPitchBendSensitivity:
		c.control.pitchBendSensitivity = ev.PitchBendSensitivity
		c.processControlEvent(ControlEvent{
			Kind:      ControlEventPitchBend,
			PitchBend: c.control.pitchBendSensitivity * c.control.pitchBendValue,
		})
	case ControlEventPitchBendValue:
		c.control.pitchBendValue = ev.PitchBendValue
		c.processControlEvent(ControlEvent{
			Kind:      ControlEventPitchBend,
			PitchBend: c.control.pitchBendSensitivity * c.control.pitchBendValue,
		})
	case ControlEventPitchBend:
		c.control.pitchBendSemitones = ev.PitchBend
		c.updatePitchMultiplier()
	case ControlEventFineTune:
		c.control.fineTuneCents = ev.FineTune
		c.updatePitchMultiplier()
	case ControlEventCoarseTune:
		c.control.coarseTuneSemitones = ev.CoarseTune
		c.updatePitchMultiplier()
	}
}

// updatePitchMultiplier recombines pitch bend, fine tune, and coarse tune
// into the single multiplier voices apply to playback speed.
func (c *VoiceChannel) updatePitchMultiplier() {
	semitones := c.control.pitchBendSemitones + c.control.fineTuneCents/100.0 + c.control.coarseTuneSemitones
	c.voiceControl.PitchMultiplier = float32(math.Pow(2, float64(semitones)/12.0))
	c.propagateVoiceControls()
}

func (c *VoiceChannel) processRawControl(controller, value uint8) {
	switch controller {
	case 0x64:
		c.control.selectedLSB = int8(value)
	case 0x65:
		c.control.selectedMSB = int8(value)
	case 0x06, 0x26:
		if c.control.selectedLSB == 0 && c.control.selectedMSB == 0 {
			if controller == 0x06 {
				c.control.pbSensitivityMSB = value
			} else {
				c.control.pbSensitivityLSB = value
			}
			sensitivity := float32(c.control.pbSensitivityMSB) + float32(c.control.pbSensitivityLSB)/100.0
			c.processControlEvent(ControlEvent{Kind: ControlEventPitchBendSensitivity, PitchBendSensitivity: sensitivity})
		} else if c.control.selectedMSB == 0 && c.control.selectedLSB == 1 {
			// RPN 1: fine tune, a 14-bit value centered at 8192 (0 cents),
			// spanning ±100 cents.
			if controller == 0x06 {
				c.control.fineTuneMSB = value
			} else {
				c.control.fineTuneLSB = value
			}
			combined := uint16(c.control.fineTuneMSB)<<7 | uint16(c.control.fineTuneLSB)
			cents := (float32(combined) - 8192) / 8192 * 100
			c.processControlEvent(ControlEvent{Kind: ControlEventFineTune, FineTune: cents})
		} else if c.control.selectedMSB == 0 && c.control.selectedLSB == 2 {
			// RPN 2: coarse tune, semitones = data-entry MSB - 64; the LSB
			// is conventionally unused.
			if controller == 0x06 {
				c.control.coarseTuneMSB = value
			}
			semitones := float32(c.control.coarseTuneMSB) - 64
			c.processControlEvent(ControlEvent{Kind: ControlEventCoarseTune, CoarseTune: semitones})
		}
	case 0x00: // Bank select MSB
		c.bankMSB = value
	case 0x20: // Bank select LSB
		c.bankLSB = value
	case 0x07: // Volume
		c.control.volume = float32(value) / 128.0
	case 0x0A: // Pan
		c.control.pan = float32(value) / 128.0
	case 0x0B: // Expression
		c.control.expression = float32(value) / 128.0
	case 0x40: // Damper / sustain
		held := value >= 64
		for _, k := range c.keys {
			k.setDamper(held)
		}
	case 0x48: // Release time override
		v := value
		c.voiceControl.Release = &v
		c.propagateVoiceControls()
	case 0x49: // Attack time override
		v := value
		c.voiceControl.Attack = &v
		c.propagateVoiceControls()
	case 0x4A: // Cutoff
		if value < 64 {
			ratio := float32(value) / 64.0
			cutoff := ratio*ratio*24000.0 + 500.0
			c.control.cutoff = &cutoff
		} else {
			c.control.cutoff = nil
		}
	case 0x78: // All Sounds Off
		if value == 0 {
			c.SendAudio(AllNotesKilled())
		}
	case 0x79: // Reset All Controllers
		if value == 0 {
			c.resetControl()
		}
	case 0x7B: // All Notes Off
		if value == 0 {
			c.SendAudio(AllNotesOff())
		}
	}
}

func (c *VoiceChannel) resetControl() {
	c.control = newControlEventData()
	c.voiceControl = voice.ControlData{PitchMultiplier: 1}
	c.propagateVoiceControls()
	c.control.cutoff = nil
	for _, k := range c.keys {
		k.setDamper(false)
	}
}

// RenderTo drains every key's queued events, renders and mixes all 128
// keys, and applies channel-wide volume/pan/expression and cutoff.
func (c *VoiceChannel) RenderTo(out []float32) {
	for i := range out {
		out[i] = 0
	}
	for _, k := range c.keys {
		k.drainEvents(c.voiceControl, c.soundfont, c.maxLayers)
	}

	frames := len(out)
	for _, k := range c.keys {
		if !k.hasVoices() {
			continue
		}
		scratch := k.ensureScratch(frames)
		k.renderTo(scratch)
		for i, s := range scratch {
			out[i] += s
		}
	}

	c.applyChannelEffects(out)
}

func (c *VoiceChannel) applyChannelEffects(out []float32) {
	gain := c.control.volume * c.control.expression
	for i := range out {
		out[i] *= gain
	}

	panL := c.control.pan * 2
	if panL > 1 {
		panL = 1
	}
	panR := (1 - c.control.pan) * 2
	if panR > 1 {
		panR = 1
	}
	for i := 0; i+1 < len(out); i += 2 {
		out[i] *= panL
		out[i+1] *= panR
	}

	if c.control.cutoff != nil {
		if c.cutoff == nil {
			c.cutoff = filter.NewStereo(filter.LowPass, float64(*c.control.cutoff), filter.QButterworth, c.stream.SampleRate)
		} else {
			c.cutoff.SetParams(filter.LowPass, float64(*c.control.cutoff), filter.QButterworth)
		}
		for i := 0; i+1 < len(out); i += 2 {
			out[i], out[i+1] = c.cutoff.Process(out[i], out[i+1])
		}
	}
}
