package channelgroup

import (
	"testing"

	"github.com/cbegin/xsynth-go/internal/audioparams"
	"github.com/cbegin/xsynth-go/internal/channel"
	"github.com/cbegin/xsynth-go/internal/sampler"
	"github.com/cbegin/xsynth-go/internal/soundfont"
	"github.com/cbegin/xsynth-go/internal/voice"
)

type sineSpawner struct{}

func (sineSpawner) SpawnVoice(control voice.ControlData, vel uint8) voice.Voice {
	data := make([]float32, 4096)
	for i := range data {
		data[i] = 0.5
	}
	buf := sampler.NewBuffer(data)
	return voice.NewSampledVoice(&voice.SampledVoiceParams{
		SpeedMultiplier: 1,
		Pan:             0.5,
		Volume:          1,
		Loop:            sampler.LoopParams{Mode: sampler.LoopContinuous, Start: 0, End: len(data) - 1},
		Envelope:        voice.EnvelopeDescriptor{Attack: 0, SustainPercent: 1, Release: 0.01}.Compile(48000),
		Left:            buf,
		Right:           buf,
		Interpolator:    sampler.Nearest,
		SampleRate:      48000,
	}, control, vel)
}

func testSoundfont() *soundfont.Static {
	sf := soundfont.NewStatic()
	for v := 0; v < 128; v++ {
		sf.SetAttackSpawners(0, 0, 60, uint8(v), []soundfont.VoiceSpawner{sineSpawner{}})
	}
	return sf
}

func TestGroupRendersMultipleChannelsConcurrentlyAndSums(t *testing.T) {
	g := New(Config{ChannelCount: 4, AudioParams: audioparams.DefaultStreamParams(48000)})
	g.SetSoundfonts([]soundfont.Base{testSoundfont()})

	g.SendEvent(ChannelEvent(0, channel.NoteOn(60, 100)))
	g.SendEvent(ChannelEvent(2, channel.NoteOn(60, 100)))

	out := make([]float32, 2000)
	if err := g.RenderTo(out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var energy float64
	for _, s := range out {
		energy += float64(s) * float64(s)
	}
	if energy <= 0 {
		t.Fatalf("expected combined energy from two channels, got %v", energy)
	}
}

func TestGroupAllChannelsEventReachesEveryChannel(t *testing.T) {
	g := New(Config{ChannelCount: 3, AudioParams: audioparams.DefaultStreamParams(48000)})
	g.SetSoundfonts([]soundfont.Base{testSoundfont()})

	g.SendEvent(AllChannelsEvent(channel.NoteOn(60, 100)))
	out := make([]float32, 200)
	g.RenderTo(out)

	for i := 0; i < 3; i++ {
		if g.Channel(i).Stats().VoiceCount() != 1 {
			t.Fatalf("expected channel %d to have 1 active voice, got %d", i, g.Channel(i).Stats().VoiceCount())
		}
	}
}

func TestGroupDrumChannelsAreTracked(t *testing.T) {
	g := New(Config{ChannelCount: 16, AudioParams: audioparams.DefaultStreamParams(48000), DrumsChannels: []int{9}})
	if !g.IsDrumChannel(9) {
		t.Fatalf("expected channel 9 to be marked as a drum channel")
	}
	if g.IsDrumChannel(0) {
		t.Fatalf("channel 0 must not be marked as a drum channel")
	}
}
