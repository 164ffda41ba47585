// Package soundfont resolves (bank, preset, key, velocity) into the voice
// spawners that produce a channel's sounds: the 128x128 voice-spawner
// matrix and the bank/preset fallback rules that rebuild it as programs
// change. Loading a real SF2/SFZ file is an external collaborator (see the
// Base interface below); Static is a minimal in-memory implementation used
// for tests and synthetic instruments.
package soundfont

import "github.com/cbegin/xsynth-go/internal/voice"

// VoiceSpawner is a factory that, given the channel's current control
// data and a note's velocity, produces a fresh Voice.
type VoiceSpawner interface {
	SpawnVoice(control voice.ControlData, vel uint8) voice.Voice
}

// Base is the capability a soundfont (real or synthetic) must expose: the
// attack and release voice spawners registered for a given (bank, preset,
// key, velocity) cell. An empty slice is a valid "nothing to play" answer.
type Base interface {
	AttackSpawnersAt(bank, preset, key, vel uint8) []VoiceSpawner
	ReleaseSpawnersAt(bank, preset, key, vel uint8) []VoiceSpawner
}

// cellKey addresses one (bank, preset, key, velocity) cell.
type cellKey struct {
	bank, preset, key, vel uint8
}

// Static is a minimal in-memory Base: a direct map from cell to spawners.
// It stands in for a real SF2 loader (out of scope, see SPEC_FULL.md §6) so
// the rest of the engine is independently testable, and is also a
// reasonable way to register purely synthetic instruments.
type Static struct {
	attack  map[cellKey][]VoiceSpawner
	release map[cellKey][]VoiceSpawner
}

func NewStatic() *Static {
	return &Static{
		attack:  make(map[cellKey][]VoiceSpawner),
		release: make(map[cellKey][]VoiceSpawner),
	}
}

func (s *Static) SetAttackSpawners(bank, preset, key, vel uint8, spawners []VoiceSpawner) {
	s.attack[cellKey{bank, preset, key, vel}] = spawners
}

func (s *Static) SetReleaseSpawners(bank, preset, key, vel uint8, spawners []VoiceSpawner) {
	s.release[cellKey{bank, preset, key, vel}] = spawners
}

func (s *Static) AttackSpawnersAt(bank, preset, key, vel uint8) []VoiceSpawner {
	return s.attack[cellKey{bank, preset, key, vel}]
}

func (s *Static) ReleaseSpawnersAt(bank, preset, key, vel uint8) []VoiceSpawner {
	return s.release[cellKey{bank, preset, key, vel}]
}
