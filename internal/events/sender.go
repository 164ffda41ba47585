package events

import (
	"sync/atomic"

	"github.com/cbegin/xsynth-go/internal/channel"
	"github.com/cbegin/xsynth-go/internal/channelgroup"
)

// VelocityRange is an inclusive [Min, Max] velocity band to silently drop
// note-ons for (used to mute ranges of a MIDI file without editing it).
type VelocityRange struct{ Min, Max uint8 }

func (r VelocityRange) contains(vel uint8) bool { return vel >= r.Min && vel <= r.Max }

// channelSender tracks NPS-limiter and ignore-range state for one channel,
// including the skipped-note bookkeeping that lets a later NoteOff find its
// matching NoteOn was dropped and drop itself symmetrically.
type channelSender struct {
	nps          *RoughNpsTracker
	skippedNotes [128]uint32
}

func newChannelSender() *channelSender {
	return &channelSender{nps: NewRoughNpsTracker()}
}

func (s *channelSender) close() { s.nps.Close() }

// Sender decodes MIDI input into channelgroup events, applying an NPS
// limiter (shared across channels via maxNps) and an optional ignored
// velocity range.
type Sender struct {
	group   *channelgroup.Group
	senders []*channelSender

	maxNps      atomic.Int64
	ignoreRange VelocityRange
}

// NewSender wires a Sender to group, one limiter per channel.
func NewSender(group *channelgroup.Group, channelCount int, maxNps int64, ignore VelocityRange) *Sender {
	s := &Sender{group: group, senders: make([]*channelSender, channelCount), ignoreRange: ignore}
	s.maxNps.Store(maxNps)
	for i := range s.senders {
		s.senders[i] = newChannelSender()
	}
	return s
}

// SetMaxNps changes the shared NPS ceiling used by every channel's limiter.
func (s *Sender) SetMaxNps(max int64) { s.maxNps.Store(max) }

// Close stops every channel's background NPS clock.
func (s *Sender) Close() {
	for _, cs := range s.senders {
		cs.close()
	}
}

// SendChannel routes ev to channel ch, applying the NPS limiter and ignore
// range to note-on/note-off events; every other event passes straight
// through.
func (s *Sender) SendChannel(ch int, ev channel.AudioEvent) {
	if ch < 0 || ch >= len(s.senders) {
		return
	}
	if s.admit(s.senders[ch], ev) {
		s.group.SendEvent(channelgroup.ChannelEvent(ch, ev))
	}
}

// SendAllChannels applies the same event (and NPS/ignore-range admission,
// evaluated independently per channel) to every channel.
func (s *Sender) SendAllChannels(ev channel.AudioEvent) {
	for ch, cs := range s.senders {
		if s.admit(cs, ev) {
			s.group.SendEvent(channelgroup.ChannelEvent(ch, ev))
		}
	}
}

// admit applies NPS-limiting and the ignore range to note-on/note-off
// events, and always admits everything else.
func (s *Sender) admit(cs *channelSender, ev channel.AudioEvent) bool {
	switch ev.Kind {
	case channel.AudioEventNoteOn:
		if ev.Key > 127 {
			return false
		}
		inIgnoreRange := s.ignoreRange.contains(ev.Vel)
		nps := cs.nps.CalculateNps()
		if shouldAdmit(ev.Vel, nps, s.maxNps.Load()) && !inIgnoreRange {
			cs.nps.AddNote()
			return true
		}
		cs.skippedNotes[ev.Key]++
		return false
	case channel.AudioEventNoteOff:
		if ev.Key > 127 {
			return false
		}
		if cs.skippedNotes[ev.Key] > 0 {
			cs.skippedNotes[ev.Key]--
			return false
		}
		return true
	default:
		return true
	}
}

// SendRaw decodes a packed 32-bit MIDI word (status in bits 0-7, data1 in
// bits 8-15, data2 in bits 16-23) and routes the resulting event.
func (s *Sender) SendRaw(word uint32) {
	status := uint8(word & 0xFF)
	ch := int(status & 0x0F)
	code := status >> 4
	val1 := uint8((word >> 8) & 0xFF)
	val2 := uint8((word >> 16) & 0xFF)

	switch code {
	case 0x8:
		s.SendChannel(ch, channel.NoteOff(val1))
	case 0x9:
		s.SendChannel(ch, channel.NoteOn(val1, val2))
	case 0xB:
		s.SendChannel(ch, channel.Control(channel.RawControl(val1, val2)))
	case 0xC:
		s.SendChannel(ch, channel.ProgramChange(val1))
	case 0xE:
		raw := (int16(val2) << 7) | int16(val1)
		value := float32(raw-8192) / 8192.0
		s.SendChannel(ch, channel.Control(channel.PitchBendValueEvent(value)))
	}
}

// ResetSynth kills every voice, clears skipped-note bookkeeping, and
// resets every channel's controllers to their MIDI defaults.
func (s *Sender) ResetSynth() {
	s.SendAllChannels(channel.AllNotesKilled())
	for _, cs := range s.senders {
		for i := range cs.skippedNotes {
			cs.skippedNotes[i] = 0
		}
	}
	s.SendAllChannels(channel.ResetControl())
}
