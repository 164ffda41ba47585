package voice

import "sync"

// cacheKey pairs a descriptor with the sample rate it was compiled for,
// since the same descriptor compiles to different durations at different
// rates.
type cacheKey struct {
	desc       EnvelopeDescriptor
	sampleRate float64
}

// EnvelopeCache compiles each unique (descriptor, sample rate) pair exactly
// once and shares the resulting EnvelopeParameters across every spawner
// that asks for it.
type EnvelopeCache struct {
	mu    sync.Mutex
	cache map[cacheKey]*EnvelopeParameters
}

func NewEnvelopeCache() *EnvelopeCache {
	return &EnvelopeCache{cache: make(map[cacheKey]*EnvelopeParameters)}
}

func (c *EnvelopeCache) Compile(desc EnvelopeDescriptor, sampleRate float64) *EnvelopeParameters {
	key := cacheKey{desc: desc, sampleRate: sampleRate}
	c.mu.Lock()
	defer c.mu.Unlock()
	if params, ok := c.cache[key]; ok {
		return params
	}
	params := desc.Compile(sampleRate)
	c.cache[key] = params
	return params
}
