package xsynth

import (
	"testing"
	"time"

	"github.com/cbegin/xsynth-go/internal/soundfont"
	"github.com/cbegin/xsynth-go/internal/voice"
)

// flatSpawner produces a constant-amplitude voice so tests can assert on
// whether a voice was spawned without depending on real sample data.
type flatSpawner struct{}

func (flatSpawner) SpawnVoice(control voice.ControlData, vel uint8) voice.Voice {
	return &flatVoice{vel: vel}
}

type flatVoice struct {
	vel               uint8
	releasing, killed bool
	remaining         int
}

func (v *flatVoice) RenderTo(out []float32) {
	for i := range out {
		out[i] += 0.1
	}
	if v.remaining > 0 {
		v.remaining--
	}
}
func (v *flatVoice) Ended() bool { return v.killed && v.remaining <= 0 }
func (v *flatVoice) SignalRelease(kind voice.ReleaseType) {
	v.releasing = true
	if kind == voice.ReleaseKill {
		v.killed = true
	}
	v.remaining = 4
}
func (v *flatVoice) ProcessControls(voice.ControlData) {}
func (v *flatVoice) Velocity() uint8                   { return v.vel }
func (v *flatVoice) IsReleasing() bool                 { return v.releasing }
func (v *flatVoice) IsKilled() bool                    { return v.killed }

func testSoundfont() *soundfont.Static {
	sf := soundfont.NewStatic()
	for vel := 0; vel < 128; vel++ {
		sf.SetAttackSpawners(0, 0, 60, uint8(vel), []soundfont.VoiceSpawner{flatSpawner{}})
	}
	return sf
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := Open(8000, WithChannelCount(2), WithRenderSize(64))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	eng.SetSoundfonts([]soundfont.Base{testSoundfont()})
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestEngineOpenAndClose(t *testing.T) {
	eng := newTestEngine(t)
	if eng.Stats().RenderSize() != 64 {
		t.Fatalf("expected render size 64, got %d", eng.Stats().RenderSize())
	}
}

func TestEngineNoteOnProducesVoices(t *testing.T) {
	eng := newTestEngine(t)
	eng.NoteOn(0, 60, 100)

	// Give the channel event a chance to be drained by a render pass.
	var lastCount int64
	for i := 0; i < 50; i++ {
		eng.PollDiagnostics()
		if c := eng.group.Channel(0).Stats().VoiceCount(); c > 0 {
			lastCount = c
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if lastCount == 0 {
		t.Fatalf("expected note-on to eventually spawn a voice")
	}
}

func TestEngineNoteOffReleasesVoice(t *testing.T) {
	eng := newTestEngine(t)
	eng.NoteOn(0, 60, 100)
	time.Sleep(20 * time.Millisecond)
	eng.NoteOff(0, 60)
	// Releasing must not panic the render pipeline; give it a moment to
	// drain and confirm the engine is still alive.
	time.Sleep(20 * time.Millisecond)
	if eng.Stats().Samples() < 0 {
		t.Fatalf("unexpected negative sample count")
	}
}

func TestEngineSendRawRoutesToChannel(t *testing.T) {
	eng := newTestEngine(t)
	// Note on: channel 0, key 60, velocity 100.
	word := uint32(0x90) | uint32(60)<<8 | uint32(100)<<16
	eng.SendRaw(word)

	var found bool
	for i := 0; i < 50; i++ {
		eng.PollDiagnostics()
		if eng.group.Channel(0).Stats().VoiceCount() > 0 {
			found = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !found {
		t.Fatalf("expected SendRaw note-on to spawn a voice on channel 0")
	}
}

func TestEngineWatchReceivesVoiceCountEvents(t *testing.T) {
	eng := newTestEngine(t)
	ch := eng.Watch()
	eng.NoteOn(0, 60, 100)

	deadline := time.After(2 * time.Second)
	for {
		eng.PollDiagnostics()
		select {
		case ev := <-ch:
			if ev.Kind != EventVoiceCountChanged {
				t.Fatalf("expected EventVoiceCountChanged, got kind %d", ev.Kind)
			}
			return
		case <-deadline:
			t.Fatalf("timed out waiting for a voice-count diagnostic event")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestEngineResetSynthClearsVoices(t *testing.T) {
	eng := newTestEngine(t)
	eng.NoteOn(0, 60, 100)
	time.Sleep(20 * time.Millisecond)
	eng.ResetSynth()

	for i := 0; i < 100; i++ {
		eng.PollDiagnostics()
		if eng.group.Channel(0).Stats().VoiceCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected ResetSynth to eventually clear all voices, got count %d", eng.group.Channel(0).Stats().VoiceCount())
}
