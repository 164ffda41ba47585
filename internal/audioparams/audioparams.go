// Package audioparams holds the handful of stream-wide constants every
// layer of the engine needs to agree on (sample rate, channel count).
package audioparams

// StreamParams describes the fixed audio format the whole engine renders
// at. Channels is always 2 (stereo); the engine renders no other layout.
type StreamParams struct {
	SampleRate float64
	Channels   int
}

const StereoChannels = 2

func DefaultStreamParams(sampleRate float64) StreamParams {
	return StreamParams{SampleRate: sampleRate, Channels: StereoChannels}
}
