// Package channelgroup renders a bank of MIDI channels in parallel and
// mixes them into one stereo buffer, routing events to the channel(s) they
// target and configuring percussion channels on request.
package channelgroup

import (
	"golang.org/x/sync/errgroup"

	"github.com/cbegin/xsynth-go/internal/audioparams"
	"github.com/cbegin/xsynth-go/internal/channel"
	"github.com/cbegin/xsynth-go/internal/soundfont"
)

// maxCachedEvents bounds how many queued events accumulate before a forced
// flush, so a caller that sends many events without rendering doesn't grow
// the cache unboundedly.
const maxCachedEvents = 1024 * 1024

// Config configures a new Group.
type Config struct {
	ChannelCount  int
	AudioParams   audioparams.StreamParams
	ChannelOpts   channel.Options
	DrumsChannels []int // channel indices (0-based) that play from the drum bank (128)
}

// Event addresses a note/control event at one channel, every channel, or
// requests the channel's max-layers setting change (ChannelConfig).
type Event struct {
	Kind       EventKind
	Channel    int
	Audio      channel.AudioEvent
	MaxLayers  *int
}

type EventKind int

const (
	EventChannel EventKind = iota
	EventAllChannels
	EventChannelConfig
)

func ChannelEvent(ch int, audio channel.AudioEvent) Event {
	return Event{Kind: EventChannel, Channel: ch, Audio: audio}
}

func AllChannelsEvent(audio channel.AudioEvent) Event {
	return Event{Kind: EventAllChannels, Audio: audio}
}

func MaxLayersEvent(ch int, max *int) Event {
	return Event{Kind: EventChannelConfig, Channel: ch, MaxLayers: max}
}

// Group owns a fixed bank of channels and mixes their output.
type Group struct {
	channels      []*channel.VoiceChannel
	eventCache    [][]channel.AudioEvent
	cachedCount   int
	sampleScratch [][]float32
	drums         map[int]bool
}

// New builds a Group from config, marking each of config.DrumsChannels to
// resolve programs from the drum bank (128) instead of the melodic banks.
func New(config Config) *Group {
	g := &Group{
		channels:      make([]*channel.VoiceChannel, config.ChannelCount),
		eventCache:    make([][]channel.AudioEvent, config.ChannelCount),
		sampleScratch: make([][]float32, config.ChannelCount),
		drums:         make(map[int]bool, len(config.DrumsChannels)),
	}
	for _, idx := range config.DrumsChannels {
		g.drums[idx] = true
	}
	for i := range g.channels {
		g.channels[i] = channel.New(config.AudioParams, config.ChannelOpts)
		if g.drums[i] {
			g.channels[i].SetPercussionMode(true)
		}
	}
	return g
}

// IsDrumChannel reports whether channel i was configured to resolve
// programs from the drum bank.
func (g *Group) IsDrumChannel(i int) bool { return g.drums[i] }

// SetSoundfonts binds the same soundfont stack to every channel.
func (g *Group) SetSoundfonts(soundfonts []soundfont.Base) {
	for _, c := range g.channels {
		c.SetSoundfonts(soundfonts)
	}
}

// Channel returns the channel at index i, or nil if out of range.
func (g *Group) Channel(i int) *channel.VoiceChannel {
	if i < 0 || i >= len(g.channels) {
		return nil
	}
	return g.channels[i]
}

// SendEvent queues ev for delivery on the next render (or flush).
func (g *Group) SendEvent(ev Event) {
	switch ev.Kind {
	case EventChannel:
		g.eventCache[ev.Channel] = append(g.eventCache[ev.Channel], ev.Audio)
		g.cachedCount++
	case EventAllChannels:
		for i := range g.eventCache {
			g.eventCache[i] = append(g.eventCache[i], ev.Audio)
		}
		g.cachedCount += len(g.eventCache)
	case EventChannelConfig:
		if c := g.Channel(ev.Channel); c != nil {
			c.SetMaxLayers(ev.MaxLayers)
		}
	}
	if g.cachedCount > maxCachedEvents {
		g.flush()
	}
}

func (g *Group) flush() {
	if g.cachedCount == 0 {
		return
	}
	for i, c := range g.channels {
		for _, ev := range g.eventCache[i] {
			c.SendAudio(ev)
		}
		g.eventCache[i] = g.eventCache[i][:0]
	}
	g.cachedCount = 0
}

// RenderTo flushes any queued events, renders every channel concurrently
// into its own scratch buffer, and sums the results into out.
func (g *Group) RenderTo(out []float32) error {
	g.flush()

	var eg errgroup.Group
	for i, c := range g.channels {
		i, c := i, c
		if cap(g.sampleScratch[i]) < len(out) {
			g.sampleScratch[i] = make([]float32, len(out))
		}
		scratch := g.sampleScratch[i][:len(out)]
		eg.Go(func() error {
			c.RenderTo(scratch)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i := range out {
		out[i] = 0
	}
	for _, scratch := range g.sampleScratch {
		for i, s := range scratch {
			out[i] += s
		}
	}
	return nil
}
