package voice

import "testing"

func almostEqual(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestEnvelopeStartsAtStartPercent(t *testing.T) {
	desc := EnvelopeDescriptor{StartPercent: 0.5, Delay: 0, Attack: 15, Hold: 0, Decay: 17, SustainPercent: 0.4, Release: 16}
	params := desc.Compile(1) // sample_rate = 1, matching seconds == samples
	env := NewEnvelope(params)
	dst := make([]float32, 1)
	env.NextBlock(dst)
	if !almostEqual(float64(dst[0]), 0.5, 1e-6) {
		t.Fatalf("value at time 0 = %v, want 0.5", dst[0])
	}
}

func TestEnvelopeReachesSustainPercent(t *testing.T) {
	desc := EnvelopeDescriptor{StartPercent: 0, Delay: 0, Attack: 10, Hold: 5, Decay: 10, SustainPercent: 0.3, Release: 8}
	params := desc.Compile(1)
	env := NewEnvelope(params)
	dst := make([]float32, int(desc.Attack+desc.Hold+desc.Decay)+50)
	env.NextBlock(dst)
	last := dst[len(dst)-1]
	if !almostEqual(float64(last), 0.3, 1e-6) {
		t.Fatalf("sustain value = %v, want 0.3", last)
	}
}

func TestEnvelopeEndsAtZeroAfterRelease(t *testing.T) {
	desc := EnvelopeDescriptor{StartPercent: 0, Delay: 0, Attack: 5, Hold: 0, Decay: 5, SustainPercent: 0.6, Release: 10}
	params := desc.Compile(1)
	env := NewEnvelope(params)
	// Advance well into sustain.
	env.NextBlock(make([]float32, 20))
	env.SignalRelease()
	dst := make([]float32, 10)
	env.NextBlock(dst)
	if !env.Ended() {
		t.Fatalf("envelope should be ended after release completes")
	}
	if dst[len(dst)-1] != 0 {
		t.Fatalf("last release value = %v, want 0", dst[len(dst)-1])
	}
}

func TestEnvelopeZeroDurationStagesAreSkipped(t *testing.T) {
	desc := EnvelopeDescriptor{StartPercent: 0.2, Delay: 0, Attack: 0, Hold: 0, Decay: 0, SustainPercent: 0.7, Release: 5}
	params := desc.Compile(1)
	env := NewEnvelope(params)
	dst := make([]float32, 1)
	env.NextBlock(dst)
	if !almostEqual(float64(dst[0]), 0.7, 1e-6) {
		t.Fatalf("value after skipping zero-duration stages = %v, want 0.7 (sustain)", dst[0])
	}
}

func TestEnvelopeExponentialAttackIsConvexBelowTheLinearRamp(t *testing.T) {
	desc := EnvelopeDescriptor{StartPercent: 0, Delay: 0, Attack: 100, Hold: 0, Decay: 0, SustainPercent: 1, Release: 0, AttackCurve: CurveExponential}
	params := desc.Compile(1)
	env := NewEnvelope(params)
	dst := make([]float32, 50) // halfway through the attack stage
	env.NextBlock(dst)
	mid := float64(dst[len(dst)-1])
	if mid <= 0 || mid >= 0.5 {
		t.Fatalf("exponential attack at 50%% progress = %v, want strictly between 0 and the linear midpoint 0.5", mid)
	}
}

func TestEnvelopeExponentialReleaseFallsFasterThanLinearAtMidpoint(t *testing.T) {
	desc := EnvelopeDescriptor{StartPercent: 0, Delay: 0, Attack: 1, Hold: 0, Decay: 0, SustainPercent: 1, Release: 100, ReleaseCurve: CurveExponential}
	params := desc.Compile(1)
	env := NewEnvelope(params)
	env.NextBlock(make([]float32, 5)) // reach sustain at 1.0
	env.SignalRelease()
	dst := make([]float32, 50) // halfway through the release stage
	env.NextBlock(dst)
	mid := float64(dst[len(dst)-1])
	if mid <= 0 || mid >= 0.5 {
		t.Fatalf("exponential release at 50%% progress = %v, want strictly between 0 and the linear midpoint 0.5", mid)
	}
}

func TestEnvelopeLinearCurveIsDefaultZeroValue(t *testing.T) {
	if CurveLinear != 0 {
		t.Fatalf("CurveLinear must be the zero value so an unset EnvelopeDescriptor stays purely linear")
	}
}

func TestEnvelopeBlockStraddlingBoundaryMatchesPerSample(t *testing.T) {
	desc := EnvelopeDescriptor{StartPercent: 0, Delay: 0, Attack: 7, Hold: 3, Decay: 4, SustainPercent: 0.5, Release: 9}
	params := desc.Compile(1)

	envBlock := NewEnvelope(params)
	block := make([]float32, 30)
	envBlock.NextBlock(block)

	envScalar := NewEnvelope(params)
	scalar := make([]float32, 30)
	for i := range scalar {
		envScalar.NextBlock(scalar[i : i+1])
	}

	for i := range block {
		if block[i] != scalar[i] {
			t.Fatalf("sample %d: block-fill = %v, per-sample = %v", i, block[i], scalar[i])
		}
	}
}
