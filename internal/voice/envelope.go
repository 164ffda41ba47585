package voice

import "math"

// Stage is one of the seven amplitude-envelope stages.
type Stage int

const (
	StageDelay Stage = iota
	StageAttack
	StageHold
	StageDecay
	StageSustain
	StageRelease
	StageFinished
)

func (s Stage) next() Stage {
	if s == StageFinished {
		return StageFinished
	}
	return s + 1
}

// Curve selects the interpolant a Lerp stage uses to move from its start
// amplitude to its target. CurveExponential replaces the linear blend with
// a dB-space map: convex for a rising stage (attack), concave for a
// falling one (decay/release).
type Curve int

const (
	CurveLinear Curve = iota
	CurveExponential
)

// EnvelopeDescriptor is the user-facing shape of a seven-stage AmpEG: every
// duration is in seconds, every percent is 0..1. AttackCurve/DecayCurve/
// ReleaseCurve select the interpolant for their respective stage; the zero
// value (CurveLinear) matches a plain ADSR.
type EnvelopeDescriptor struct {
	StartPercent   float64
	Delay          float64
	Attack         float64
	Hold           float64
	Decay          float64
	SustainPercent float64
	Release        float64

	AttackCurve  Curve
	DecayCurve   Curve
	ReleaseCurve Curve
}

// part is one compiled stage: either a ramp to Target over Duration
// samples (linear or dB-space exponential), or a flat Hold at Target
// forever.
type part struct {
	isHold   bool
	target   float64
	duration float64 // samples
	curve    Curve
}

// EnvelopeParameters is the compiled, sample-rate-specific form of a
// descriptor. It is immutable and safe to share across many voices.
type EnvelopeParameters struct {
	parts [7]part
}

// Compile converts the descriptor into EnvelopeParameters at the given
// sample rate. Compiled parameters are normally cached per unique
// descriptor by the caller (see EnvelopeCache).
func (d EnvelopeDescriptor) Compile(sampleRate float64) *EnvelopeParameters {
	return &EnvelopeParameters{parts: [7]part{
		StageDelay:    {target: d.StartPercent, duration: d.Delay * sampleRate},
		StageAttack:   {target: 1.0, duration: d.Attack * sampleRate, curve: d.AttackCurve},
		StageHold:     {target: 1.0, duration: d.Hold * sampleRate},
		StageDecay:    {target: d.SustainPercent, duration: d.Decay * sampleRate, curve: d.DecayCurve},
		StageSustain:  {isHold: true, target: d.SustainPercent},
		StageRelease:  {target: 0.0, duration: d.Release * sampleRate, curve: d.ReleaseCurve},
		StageFinished: {isHold: true, target: 0.0},
	}}
}

// envelopeDbFloor is the amplitude floor (in dB) substituted for 0 when
// mapping an exponential-curve stage into dB space, since dB is undefined
// at zero amplitude.
const envelopeDbFloor = -60.0

func ampToDb(amp float64) float64 {
	if amp <= 0 {
		return envelopeDbFloor
	}
	db := 20 * math.Log10(amp)
	if db < envelopeDbFloor {
		return envelopeDbFloor
	}
	return db
}

func dbToAmp(db float64) float64 {
	return math.Pow(10, db/20)
}

// curveValue blends start to target at the given 0..1 progress factor,
// either linearly or (curve == CurveExponential) by interpolating in
// dB space and converting back, which is convex on the way up and
// concave on the way down.
func curveValue(curve Curve, start, target, factor float64) float64 {
	if curve == CurveLinear {
		return start + (target-start)*factor
	}
	startDb := ampToDb(start)
	targetDb := ampToDb(target)
	return dbToAmp(startDb + (targetDb-startDb)*factor)
}

// Envelope is the per-voice runtime state for an amplitude envelope.
type Envelope struct {
	params    *EnvelopeParameters
	stage     Stage
	stageTime float64
	startAmp  float64

	// killDuration overrides the Release stage's duration when the voice
	// was killed (hard-cut) rather than released normally; 0 means "use
	// the compiled duration".
	killDuration float64

	// attackDuration/releaseDuration override the compiled Attack/Release
	// stage durations when a channel pushes CC 0x49/0x48 to this voice;
	// 0 means "use the compiled duration".
	attackDuration  float64
	releaseDuration float64
}

// SetAttackOverride rescales the Attack stage duration (CC 0x49), 0 to
// clear the override and fall back to the compiled duration.
func (e *Envelope) SetAttackOverride(samples float64) {
	e.attackDuration = samples
}

// SetReleaseOverride rescales the Release stage duration (CC 0x48).
func (e *Envelope) SetReleaseOverride(samples float64) {
	e.releaseDuration = samples
}

// killFadeSamples is the short fade applied when a voice is killed outright
// (e.g. polyphony eviction, all-sounds-off) instead of released normally.
const killFadeSamples = 64

func (e *Envelope) getPart(s Stage) part {
	p := e.params.parts[s]
	switch {
	case s == StageRelease && e.killDuration > 0:
		p.duration = e.killDuration
	case s == StageRelease && e.releaseDuration > 0:
		p.duration = e.releaseDuration
	case s == StageAttack && e.attackDuration > 0:
		p.duration = e.attackDuration
	}
	return p
}

// NewEnvelope starts a fresh envelope at the Delay stage (or, when Delay has
// zero duration, fast-forwards through the zero-duration prefix).
func NewEnvelope(params *EnvelopeParameters) *Envelope {
	e := &Envelope{params: params}
	e.enterStage(StageDelay, 0)
	return e
}

// enterStage transitions into stage s with the given starting amplitude,
// skipping any zero-duration Lerp stages by chaining their target into the
// next stage's starting amplitude.
func (e *Envelope) enterStage(s Stage, startAmp float64) {
	for {
		p := e.getPart(s)
		if !p.isHold && p.duration <= 0 {
			startAmp = p.target
			if s == StageFinished {
				break
			}
			s = s.next()
			continue
		}
		break
	}
	e.stage = s
	e.stageTime = 0
	e.startAmp = startAmp
}

func (e *Envelope) currentValue() float64 {
	p := e.getPart(e.stage)
	if p.isHold {
		return p.target
	}
	factor := e.stageTime / p.duration
	if factor > 1 {
		factor = 1
	}
	return curveValue(p.curve, e.startAmp, p.target, factor)
}

// NextBlock fills dst with successive envelope values, advancing internal
// state by len(dst) samples. A block that lies fully inside one stage is
// computed with a single linear formula; a block that straddles a stage
// boundary falls back to filling one sample at a time so the boundary
// crossing lands exactly on the right sample.
func (e *Envelope) NextBlock(dst []float32) {
	i := 0
	n := len(dst)
	for i < n {
		p := e.getPart(e.stage)
		if p.isHold {
			for ; i < n; i++ {
				dst[i] = float32(p.target)
			}
			return
		}
		remaining := p.duration - e.stageTime
		if remaining <= 0 {
			e.enterStage(e.stage.next(), p.target)
			continue
		}
		if remaining >= float64(n-i) {
			for ; i < n; i++ {
				factor := e.stageTime / p.duration
				if factor > 1 {
					factor = 1
				}
				dst[i] = float32(curveValue(p.curve, e.startAmp, p.target, factor))
				e.stageTime++
			}
			return
		}
		for remaining > 0 && i < n {
			factor := e.stageTime / p.duration
			if factor > 1 {
				factor = 1
			}
			dst[i] = float32(curveValue(p.curve, e.startAmp, p.target, factor))
			e.stageTime++
			i++
			remaining--
		}
		e.enterStage(e.stage.next(), p.target)
	}
}

// SignalRelease captures the current amplitude and jumps directly into the
// Release stage from any earlier stage; it does nothing if the envelope is
// already releasing or finished.
func (e *Envelope) SignalRelease() {
	if e.stage == StageRelease || e.stage == StageFinished {
		return
	}
	e.enterStage(StageRelease, e.currentValue())
}

// SignalKillRelease is like SignalRelease but forces a short fade instead of
// the configured release duration, for hard kills (polyphony eviction,
// all-sounds-off) where a normal release would be too slow.
func (e *Envelope) SignalKillRelease() {
	e.killDuration = killFadeSamples
	if e.stage == StageRelease {
		// Already releasing: re-enter with the shorter duration from here.
		e.enterStage(StageRelease, e.currentValue())
		return
	}
	if e.stage == StageFinished {
		return
	}
	e.enterStage(StageRelease, e.currentValue())
}

func (e *Envelope) Ended() bool {
	return e.stage == StageFinished
}
