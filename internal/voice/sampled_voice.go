package voice

import (
	"math"

	"github.com/cbegin/xsynth-go/internal/filter"
	"github.com/cbegin/xsynth-go/internal/sampler"
)

// SampledVoiceParams is the immutable, shared-by-reference configuration a
// soundfont voice spawner hands to every voice it produces. It corresponds
// to one (key, velocity) matrix cell's resolved sample region.
type SampledVoiceParams struct {
	SpeedMultiplier float32
	Pan             float32 // 0..1
	Volume          float32
	Cutoff          *float32 // Hz; nil disables the per-voice filter
	Resonance       float32
	FilterType      filter.Type
	Loop            sampler.LoopParams
	Envelope        *EnvelopeParameters
	Left, Right     *sampler.Buffer // Right == Left for mono samples
	Interpolator    sampler.Interpolator
	SampleRate      float64
}

// SampledVoice is the concrete Voice implementation for sample playback: the
// composed generator stack described in the voice graph (pitch, sample,
// velocity, pan, envelope, cutoff).
type SampledVoice struct {
	params *SampledVoiceParams
	vel    uint8

	pitch float64 // combined SpeedMultiplier * vcd.PitchMultiplier
	time  float64 // fractional sample position

	left, right *sampler.Grabber
	env         *Envelope
	cutoff      *filter.Stereo

	gainL, gainR float32

	releasing bool
	killed    bool
	pastEnd   bool

	ampScratch []float32
}

// NewSampledVoice spawns a fresh voice from shared params and per-channel
// control data captured at note-on.
func NewSampledVoice(params *SampledVoiceParams, vcd ControlData, vel uint8) *SampledVoice {
	v := &SampledVoice{
		params: params,
		vel:    vel,
		env:    NewEnvelope(params.Envelope),
	}

	leftReader := sampler.NewReader(params.Left, params.Loop)
	rightReader := sampler.NewReader(params.Right, params.Loop)
	v.left = sampler.NewGrabber(leftReader, params.Interpolator)
	v.right = sampler.NewGrabber(rightReader, params.Interpolator)

	if params.Cutoff != nil {
		q := params.Resonance
		if q <= 0 {
			q = filter.QButterworth
		}
		v.cutoff = filter.NewStereo(params.FilterType, float64(*params.Cutoff), float64(q), params.SampleRate)
	}

	v.recomputeGains()
	v.ProcessControls(vcd)
	return v
}

func (v *SampledVoice) recomputeGains() {
	pan := float64(v.params.Pan)
	const sqrt2 = math.Sqrt2
	gL := math.Cos(pan*math.Pi/2) * sqrt2
	gR := math.Sin(pan*math.Pi/2) * sqrt2
	if gL > 1 {
		gL = 1
	}
	if gR > 1 {
		gR = 1
	}
	v.gainL = float32(gL)
	v.gainR = float32(gR)
}

// ProcessControls re-applies per-channel control state: pitch bend
// multiplier and optional per-voice attack/release CC overrides.
func (v *SampledVoice) ProcessControls(vcd ControlData) {
	v.pitch = float64(v.params.SpeedMultiplier) * float64(vcd.PitchMultiplier)
	if vcd.Attack != nil {
		// CC value 64 is neutral (1x); each unit scales duration by 1/64.
		v.env.SetAttackOverride(float64(v.params.Envelope.parts[StageAttack].duration) * float64(*vcd.Attack) / 64)
	}
	if vcd.Release != nil {
		v.env.SetReleaseOverride(float64(v.params.Envelope.parts[StageRelease].duration) * float64(*vcd.Release) / 64)
	}
}

func (v *SampledVoice) ensureScratch(n int) []float32 {
	if cap(v.ampScratch) < n {
		v.ampScratch = make([]float32, n)
	}
	return v.ampScratch[:n]
}

// RenderTo adds this voice's output into out (interleaved stereo).
func (v *SampledVoice) RenderTo(out []float32) {
	frames := len(out) / 2
	if frames == 0 || v.pastEnd {
		return
	}

	amp := v.ensureScratch(frames)
	v.env.NextBlock(amp)

	velScale := (float64(v.vel) / 127) * (float64(v.vel) / 127) * float64(v.params.Volume)

	for i := 0; i < frames; i++ {
		idx := int(v.time)
		frac := v.time - math.Floor(v.time)

		if v.left.IsPastEnd(idx) {
			v.pastEnd = true
			break
		}

		l := v.left.At(idx, frac)
		r := v.right.At(idx, frac)
		v.time += v.pitch

		scale := float32(velScale) * amp[i]
		l *= scale
		r *= scale
		l *= v.gainL
		r *= v.gainR

		if v.cutoff != nil {
			l, r = v.cutoff.Process(l, r)
		}

		out[2*i] += l
		out[2*i+1] += r
	}
}

func (v *SampledVoice) Ended() bool {
	return v.pastEnd || v.env.Ended()
}

func (v *SampledVoice) SignalRelease(kind ReleaseType) {
	if v.killed {
		return
	}
	idx := int(v.time)
	v.left.SignalRelease(idx)
	v.right.SignalRelease(idx)
	switch kind {
	case ReleaseKill:
		v.killed = true
		v.releasing = true
		v.env.SignalKillRelease()
	default:
		if v.releasing {
			return
		}
		v.releasing = true
		v.env.SignalRelease()
	}
}

func (v *SampledVoice) Velocity() uint8   { return v.vel }
func (v *SampledVoice) IsReleasing() bool { return v.releasing }
func (v *SampledVoice) IsKilled() bool    { return v.killed }
