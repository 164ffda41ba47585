package filter

import (
	"math"
	"testing"
)

func TestLowPassAttenuatesHighFrequencies(t *testing.T) {
	const sr = 48000.0
	m := NewMono(LowPass, 500, QButterworth, sr)

	energy := func(freq float64, n int) float64 {
		m2 := NewMono(LowPass, 500, QButterworth, sr)
		var sum float64
		for i := 0; i < n; i++ {
			x := math.Sin(2 * math.Pi * freq * float64(i) / sr)
			y := m2.Process(float32(x))
			sum += float64(y) * float64(y)
		}
		return sum
	}
	_ = m

	low := energy(100, 4096)
	high := energy(12000, 4096)
	if high >= low {
		t.Fatalf("expected low-pass to attenuate 12kHz more than 100Hz: low=%v high=%v", low, high)
	}
}

func TestCoefficientsRecomputeOnlyOnChange(t *testing.T) {
	m := NewMono(LowPass, 1000, QButterworth, 48000)
	before := m.coeffs
	m.SetParams(LowPass, 1000, QButterworth)
	if m.coeffs != before {
		t.Fatalf("coefficients changed even though params were identical")
	}
	m.SetParams(LowPass, 2000, QButterworth)
	if m.coeffs == before {
		t.Fatalf("coefficients did not change after cutoff change")
	}
}

func TestStereoProcessesChannelsIndependently(t *testing.T) {
	s := NewStereo(HighPass, 1000, QButterworth, 48000)
	l, r := s.Process(1, -1)
	if l == 0 || r != -l {
		t.Fatalf("expected each channel filtered on its own input (l=-r, non-zero), got l=%v r=%v", l, r)
	}
}
