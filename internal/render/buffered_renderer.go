// Package render implements deferred, back-pressured audio rendering: a
// background goroutine renders ahead of the audio callback in small
// chunks, smoothing out occasional slow render calls without adding
// unbounded latency.
package render

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbegin/xsynth-go/internal/audioparams"
)

// ErrRendererStopped is returned by Read once the render goroutine has
// exited after Close. If it exited because the Source panicked or returned
// an error, Read returns that error instead.
var ErrRendererStopped = errors.New("render: renderer stopped")

// Source is anything that can render into a caller-provided buffer, such
// as a channelgroup.Group.
type Source interface {
	RenderTo(out []float32) error
}

type stats struct {
	samples              atomic.Int64
	lastSamplesAfterRead atomic.Int64
	lastRequestSamples   atomic.Int64
	renderSize           atomic.Int64

	loadMu   sync.Mutex
	loadHist []float64 // most recent at index 0, capped at 100 entries
}

func (s *stats) pushLoad(v float64) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	s.loadHist = append([]float64{v}, s.loadHist...)
	if len(s.loadHist) > 100 {
		s.loadHist = s.loadHist[:100]
	}
}

// Stats is a read-only, concurrency-safe view of a BufferedRenderer's
// internal state, useful for diagnosing underruns.
type Stats struct{ s *stats }

func (r Stats) Samples() int64              { return r.s.samples.Load() }
func (r Stats) LastSamplesAfterRead() int64 { return r.s.lastSamplesAfterRead.Load() }
func (r Stats) LastRequestSamples() int64   { return r.s.lastRequestSamples.Load() }
func (r Stats) RenderSize() int             { return int(r.s.renderSize.Load()) }

// AverageLoad is the average fraction (0..1+) of the render budget spent
// actually rendering, over the last 100 iterations.
func (r Stats) AverageLoad() float64 {
	r.s.loadMu.Lock()
	defer r.s.loadMu.Unlock()
	if len(r.s.loadHist) == 0 {
		return 0
	}
	var total float64
	for _, v := range r.s.loadHist {
		total += v
	}
	return total / float64(len(r.s.loadHist))
}

// LastLoad is the most recent render-budget fraction.
func (r Stats) LastLoad() float64 {
	r.s.loadMu.Lock()
	defer r.s.loadMu.Unlock()
	if len(r.s.loadHist) == 0 {
		return 0
	}
	return r.s.loadHist[0]
}

// BufferedRenderer runs a Source in a background goroutine, rendering
// render_size-sample chunks ahead of demand. If the goroutine gets more
// than 10% ahead of what's being consumed, it throttles itself; if
// consumption outpaces rendering, Read blocks until more samples arrive.
type BufferedRenderer struct {
	stats  stats
	stream audioparams.StreamParams

	recv      chan []float32
	remainder []float32

	stop    chan struct{}
	done    chan struct{}
	stopped atomic.Bool

	errMu sync.Mutex
	err   error
}

// New starts rendering source in the background. renderSize is the number
// of sample frames rendered per iteration.
func New(source Source, stream audioparams.StreamParams, renderSize int) *BufferedRenderer {
	r := &BufferedRenderer{
		stream: stream,
		recv:   make(chan []float32, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	r.stats.renderSize.Store(int64(renderSize))
	go r.loop(source)
	return r
}

func (r *BufferedRenderer) sleepUnlessStopped(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-r.stop:
		return false
	}
}

func (r *BufferedRenderer) loop(source Source) {
	defer close(r.done)
	defer close(r.recv)

	for {
		size := int(r.stats.renderSize.Load())
		delay := time.Duration(float64(size) / r.stream.SampleRate * float64(time.Second) * 0.9)

		for {
			samples := r.stats.samples.Load()
			lastRequested := r.stats.lastRequestSamples.Load()
			if samples > lastRequested*110/100 {
				if !r.sleepUnlessStopped(delay / 10) {
					return
				}
				continue
			}
			break
		}
		select {
		case <-r.stop:
			return
		default:
		}

		start := time.Now()
		end := start.Add(delay)

		buf := make([]float32, size*r.stream.Channels)
		if err := r.renderSafely(source, buf); err != nil {
			r.setErr(err)
			return
		}

		r.stats.samples.Add(int64(len(buf)))
		select {
		case r.recv <- buf:
		case <-r.stop:
			return
		}

		elapsed := time.Since(start).Seconds()
		if total := delay.Seconds(); total > 0 {
			r.stats.pushLoad(elapsed / total)
		}

		if !r.sleepUnlessStopped(time.Until(end)) {
			return
		}
	}
}

func (r *BufferedRenderer) renderSafely(source Source, buf []float32) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("render: panic while rendering: %v", p)
		}
	}()
	return source.RenderTo(buf)
}

func (r *BufferedRenderer) setErr(err error) {
	r.errMu.Lock()
	r.err = err
	r.errMu.Unlock()
}

// Read fills dest from the remainder of the last render chunk and, once
// exhausted, from newly received chunks, blocking if none are ready yet.
func (r *BufferedRenderer) Read(dest []float32) error {
	for i := range dest {
		dest[i] = 0
	}

	prevSamples := r.stats.samples.Add(-int64(len(dest))) + int64(len(dest))
	r.stats.lastRequestSamples.Store(int64(len(dest)))

	i := 0
	n := len(dest)
	if len(r.remainder) < n {
		n = len(r.remainder)
	}
	copy(dest[:n], r.remainder[:n])
	r.remainder = r.remainder[n:]
	i = n

	for len(r.remainder) == 0 {
		buf, ok := <-r.recv
		if !ok {
			r.errMu.Lock()
			err := r.err
			r.errMu.Unlock()
			if err != nil {
				return err
			}
			return ErrRendererStopped
		}
		take := len(buf)
		if remaining := len(dest) - i; take > remaining {
			take = remaining
		}
		copy(dest[i:i+take], buf[:take])
		i += take
		r.remainder = buf[take:]
	}

	r.stats.lastSamplesAfterRead.Store(prevSamples)
	return nil
}

// SetRenderSize changes how many sample frames are rendered per iteration.
func (r *BufferedRenderer) SetRenderSize(size int) {
	r.stats.renderSize.Store(int64(size))
}

// Stats returns a read-only stats view.
func (r *BufferedRenderer) Stats() Stats { return Stats{s: &r.stats} }

// Process implements audio.SampleSource, so a *BufferedRenderer can be
// handed directly to the ebiten/oto playback stream. A read error silences
// the buffer rather than panicking the audio callback.
func (r *BufferedRenderer) Process(dst []float32) {
	if err := r.Read(dst); err != nil {
		for i := range dst {
			dst[i] = 0
		}
	}
}

// Close stops the background goroutine and waits for it to exit.
func (r *BufferedRenderer) Close() error {
	if r.stopped.Swap(true) {
		return nil
	}
	close(r.stop)
	<-r.done
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}
