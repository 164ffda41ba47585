package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	xsynth "github.com/cbegin/xsynth-go"
	"github.com/cbegin/xsynth-go/internal/filter"
	"github.com/cbegin/xsynth-go/internal/sampler"
	"github.com/cbegin/xsynth-go/internal/soundfont"
	"github.com/cbegin/xsynth-go/internal/voice"
)

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		notes      = flag.String("notes", "60,64,67", "comma-separated MIDI key numbers to play as a demo chord")
		velocity   = flag.Int("velocity", 100, "note-on velocity (1-127)")
		holdMS     = flag.Int("hold-ms", 800, "milliseconds to hold the chord before releasing")
		tailMS     = flag.Int("tail-ms", 1500, "milliseconds to let the release tail play out")
		rawFile    = flag.String("raw-file", "", "path to a file of raw 32-bit MIDI words (one hex value per line) to play instead of -notes")
	)
	flag.Parse()

	eng, err := xsynth.Open(*sampleRate)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	eng.SetSoundfonts([]soundfont.Base{buildDemoSoundfont(*sampleRate)})

	if strings.TrimSpace(*rawFile) != "" {
		if err := playRawFile(eng, *rawFile); err != nil {
			log.Fatal(err)
		}
		return
	}

	keys, err := parseKeys(*notes)
	if err != nil {
		log.Fatal(err)
	}
	for _, key := range keys {
		eng.NoteOn(0, key, uint8(*velocity))
	}
	time.Sleep(time.Duration(*holdMS) * time.Millisecond)
	for _, key := range keys {
		eng.NoteOff(0, key)
	}
	time.Sleep(time.Duration(*tailMS) * time.Millisecond)
}

func parseKeys(csv string) ([]uint8, error) {
	var keys []uint8
	for _, field := range strings.Split(csv, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 || n > 127 {
			return nil, fmt.Errorf("invalid MIDI key %q", field)
		}
		keys = append(keys, uint8(n))
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no keys given")
	}
	return keys, nil
}

// playRawFile reads one hex-encoded 32-bit MIDI word per line (blank lines
// and "#"-prefixed comments ignored) and feeds them to the engine a fixed
// 5ms apart, matching the raw-word wire format the engine accepts.
func playRawFile(eng *xsynth.Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		word, err := strconv.ParseUint(line, 16, 32)
		if err != nil {
			return fmt.Errorf("invalid raw MIDI word %q: %w", line, err)
		}
		eng.SendRaw(uint32(word))
		time.Sleep(5 * time.Millisecond)
	}
	return scanner.Err()
}

// demoSpawner plays a one-octave-per-12-keys sine tone so synthctl has
// something audible without a real SF2 file to load (SF2 parsing is an
// external collaborator, not part of this engine).
type demoSpawner struct {
	params *voice.SampledVoiceParams
}

func (s demoSpawner) SpawnVoice(control voice.ControlData, vel uint8) voice.Voice {
	return voice.NewSampledVoice(s.params, control, vel)
}

func buildDemoSoundfont(sampleRate int) *soundfont.Static {
	sf := soundfont.NewStatic()
	cutoff := float32(8000)
	envelope := voice.EnvelopeDescriptor{
		Attack:         0.01,
		Decay:          0.2,
		SustainPercent: 0.6,
		Release:        0.3,
	}.Compile(float64(sampleRate))

	for key := 0; key < 128; key++ {
		freq := 440.0 * math.Pow(2, (float64(key)-69)/12.0)
		buf := sineBuffer(freq, float64(sampleRate), sampleRate*2)
		params := &voice.SampledVoiceParams{
			SpeedMultiplier: 1,
			Pan:             0.5,
			Volume:          0.3,
			Cutoff:          &cutoff,
			Resonance:       filter.QButterworth,
			FilterType:      filter.LowPass,
			Loop:            sampler.LoopParams{Mode: sampler.LoopContinuous, Start: 0, End: buf.Len() - 1},
			Envelope:        envelope,
			Left:            buf,
			Right:           buf,
			Interpolator:    sampler.Linear,
			SampleRate:      float64(sampleRate),
		}
		spawners := []soundfont.VoiceSpawner{demoSpawner{params: params}}
		for vel := 0; vel < 128; vel++ {
			sf.SetAttackSpawners(0, 0, uint8(key), uint8(vel), spawners)
		}
	}
	return sf
}

func sineBuffer(freq, sampleRate float64, n int) *sampler.Buffer {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / sampleRate))
	}
	return sampler.NewBuffer(data)
}
