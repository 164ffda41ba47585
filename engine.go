// Package xsynth is a polyphonic, soundfont-driven MIDI synthesizer
// engine: MIDI channels feeding per-key voice buffers, mixed and rendered
// ahead of the audio callback with back-pressure, and played back through
// ebiten/oto.
package xsynth

import (
	"errors"
	"sync"

	intaudio "github.com/cbegin/xsynth-go/internal/audio"
	"github.com/cbegin/xsynth-go/internal/audioparams"
	"github.com/cbegin/xsynth-go/internal/channel"
	"github.com/cbegin/xsynth-go/internal/channelgroup"
	"github.com/cbegin/xsynth-go/internal/events"
	"github.com/cbegin/xsynth-go/internal/render"
	"github.com/cbegin/xsynth-go/internal/soundfont"
)

// EngineEvent carries diagnostics from Watch().
type EngineEvent struct {
	Kind        int
	Channel     int
	VoiceCount  int64
	RendererLoad float64
}

const (
	// EventVoiceCountChanged fires whenever a channel's active voice count
	// changes after a render pass.
	EventVoiceCountChanged int = iota
	// EventRenderOverload fires when PollDiagnostics sees the background
	// renderer's average load above overloadThreshold of its budget,
	// meaning underruns are likely.
	EventRenderOverload
)

// overloadThreshold is the average renderer load (fraction of budget)
// above which an EventRenderOverload is reported.
const overloadThreshold = 0.9

type EngineOption func(*engineConfig)

type engineConfig struct {
	channelCount  int
	drumsChannels []int
	maxLayers     *int
	maxNps        int64
	ignoreRange   events.VelocityRange
	renderSize    int
	channelOpts   channel.Options
}

func defaultEngineConfig() engineConfig {
	four := 4
	return engineConfig{
		channelCount:  16,
		drumsChannels: []int{9},
		maxLayers:     &four,
		maxNps:        10000,
		renderSize:    512,
		channelOpts:   channel.Options{FadeOutKilling: true},
	}
}

// WithChannelCount sets how many MIDI channels the engine exposes.
func WithChannelCount(n int) EngineOption {
	return func(cfg *engineConfig) { cfg.channelCount = n }
}

// WithDrumsChannels marks the given 0-based channel indices as
// percussion channels (programs resolve from the drum bank, 128).
func WithDrumsChannels(channels []int) EngineOption {
	return func(cfg *engineConfig) { cfg.drumsChannels = channels }
}

// WithMaxLayers bounds polyphony per key; nil removes the limit.
func WithMaxLayers(max *int) EngineOption {
	return func(cfg *engineConfig) { cfg.maxLayers = max }
}

// WithMaxNotesPerSecond sets the NPS ceiling used to gracefully drop notes
// from extremely note-dense input instead of falling behind.
func WithMaxNotesPerSecond(max int64) EngineOption {
	return func(cfg *engineConfig) { cfg.maxNps = max }
}

// WithIgnoredVelocityRange silently drops note-ons whose velocity falls in
// [min, max].
func WithIgnoredVelocityRange(min, max uint8) EngineOption {
	return func(cfg *engineConfig) { cfg.ignoreRange = events.VelocityRange{Min: min, Max: max} }
}

// WithRenderSize sets how many sample frames the background renderer
// produces per iteration.
func WithRenderSize(size int) EngineOption {
	return func(cfg *engineConfig) { cfg.renderSize = size }
}

// Engine is a complete, ready-to-play synthesizer instance.
type Engine struct {
	mu sync.Mutex

	stream audioparams.StreamParams
	group  *channelgroup.Group
	sender *events.Sender
	renderer *render.BufferedRenderer
	audio  *intaudio.Player

	eventChMu sync.Mutex
	eventCh   chan EngineEvent

	lastVoiceCounts []int64
}

// Open creates and starts a new Engine at the given sample rate.
func Open(sampleRate int, opts ...EngineOption) (*Engine, error) {
	if sampleRate <= 0 {
		return nil, errors.New("xsynth: sampleRate must be positive")
	}
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	stream := audioparams.DefaultStreamParams(float64(sampleRate))
	group := channelgroup.New(channelgroup.Config{
		ChannelCount:  cfg.channelCount,
		AudioParams:   stream,
		ChannelOpts:   cfg.channelOpts,
		DrumsChannels: cfg.drumsChannels,
	})
	for i := 0; i < cfg.channelCount; i++ {
		group.Channel(i).SetMaxLayers(cfg.maxLayers)
	}

	sender := events.NewSender(group, cfg.channelCount, cfg.maxNps, cfg.ignoreRange)
	renderer := render.New(groupSource{group}, stream, cfg.renderSize)

	audioPlayer, err := intaudio.NewPlayer(sampleRate, renderer)
	if err != nil {
		renderer.Close()
		sender.Close()
		return nil, err
	}

	e := &Engine{
		stream:          stream,
		group:           group,
		sender:          sender,
		renderer:        renderer,
		audio:           audioPlayer,
		lastVoiceCounts: make([]int64, cfg.channelCount),
	}
	e.audio.Play()
	return e, nil
}

// groupSource adapts channelgroup.Group to render.Source.
type groupSource struct{ g *channelgroup.Group }

func (s groupSource) RenderTo(out []float32) error { return s.g.RenderTo(out) }

// NoteOn starts a note on ch (0-based) at key/vel.
func (e *Engine) NoteOn(ch int, key, vel uint8) { e.sender.SendChannel(ch, channel.NoteOn(key, vel)) }

// NoteOff releases a note on ch.
func (e *Engine) NoteOff(ch int, key uint8) { e.sender.SendChannel(ch, channel.NoteOff(key)) }

// ControlChange sends a raw MIDI CC to ch.
func (e *Engine) ControlChange(ch int, controller, value uint8) {
	e.sender.SendChannel(ch, channel.Control(channel.RawControl(controller, value)))
}

// ProgramChange selects preset on ch within its current bank selection.
func (e *Engine) ProgramChange(ch int, preset uint8) {
	e.sender.SendChannel(ch, channel.ProgramChange(preset))
}

// SendRaw decodes and routes a packed 32-bit MIDI word.
func (e *Engine) SendRaw(word uint32) { e.sender.SendRaw(word) }

// ResetSynth kills every voice and resets every channel's controllers.
func (e *Engine) ResetSynth() { e.sender.ResetSynth() }

// SetSoundfonts binds the same soundfont stack to every channel.
func (e *Engine) SetSoundfonts(soundfonts []soundfont.Base) { e.group.SetSoundfonts(soundfonts) }

// SetRenderSize changes how many sample frames the background renderer
// produces per iteration.
func (e *Engine) SetRenderSize(size int) { e.renderer.SetRenderSize(size) }

// SetMaxNotesPerSecond changes the shared NPS ceiling at runtime.
func (e *Engine) SetMaxNotesPerSecond(max int64) { e.sender.SetMaxNps(max) }

// Watch returns a channel that receives engine diagnostics (voice-count
// changes, renderer overload warnings). Buffered (cap 16); only the most
// recent Watch() channel receives events.
func (e *Engine) Watch() <-chan EngineEvent {
	ch := make(chan EngineEvent, 16)
	e.eventChMu.Lock()
	e.eventCh = ch
	e.eventChMu.Unlock()
	return ch
}

func (e *Engine) sendEvent(ev EngineEvent) {
	e.eventChMu.Lock()
	ch := e.eventCh
	e.eventChMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}

// PollDiagnostics checks every channel's voice count and the renderer's
// average load, emitting Watch() events for anything that changed or
// crossed the overload threshold. Callers that care about diagnostics
// should call this periodically (e.g. once per UI tick).
func (e *Engine) PollDiagnostics() {
	for i := 0; i < len(e.lastVoiceCounts); i++ {
		c := e.group.Channel(i)
		if c == nil {
			continue
		}
		count := c.Stats().VoiceCount()
		if count != e.lastVoiceCounts[i] {
			e.lastVoiceCounts[i] = count
			e.sendEvent(EngineEvent{Kind: EventVoiceCountChanged, Channel: i, VoiceCount: count})
		}
	}
	if load := e.renderer.Stats().AverageLoad(); load > overloadThreshold {
		e.sendEvent(EngineEvent{Kind: EventRenderOverload, RendererLoad: load})
	}
}

// Stats returns the background renderer's diagnostics.
func (e *Engine) Stats() render.Stats { return e.renderer.Stats() }

// Close stops playback and releases the engine's background goroutines.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.audio.Stop()
	if rerr := e.renderer.Close(); rerr != nil && err == nil {
		err = rerr
	}
	e.sender.Close()
	return err
}
