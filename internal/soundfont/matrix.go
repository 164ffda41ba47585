package soundfont

import "github.com/cbegin/xsynth-go/internal/voice"

// cellCount is the full 128 keys x 128 velocities address space.
const cellCount = 128 * 128

func cellIndex(key, vel uint8) int {
	return int(key) + int(vel)*128
}

// VoiceSpawnerMatrix is a flat 128x128 lookup from (key, velocity) to the
// spawners that should fire on note-on and note-off, rebuilt wholesale
// whenever a channel's program or bank selection changes.
type VoiceSpawnerMatrix struct {
	attack  [][]VoiceSpawner
	release [][]VoiceSpawner
}

func NewVoiceSpawnerMatrix() *VoiceSpawnerMatrix {
	return &VoiceSpawnerMatrix{
		attack:  make([][]VoiceSpawner, cellCount),
		release: make([][]VoiceSpawner, cellCount),
	}
}

func (m *VoiceSpawnerMatrix) SetAttackSpawners(key, vel uint8, spawners []VoiceSpawner) {
	m.attack[cellIndex(key, vel)] = spawners
}

func (m *VoiceSpawnerMatrix) SetReleaseSpawners(key, vel uint8, spawners []VoiceSpawner) {
	m.release[cellIndex(key, vel)] = spawners
}

// SpawnAttack spawns one voice per attack spawner registered at (key, vel).
func (m *VoiceSpawnerMatrix) SpawnAttack(control voice.ControlData, key, vel uint8) []voice.Voice {
	return spawnAll(m.attack[cellIndex(key, vel)], control, vel)
}

// SpawnRelease spawns release-layer voices (e.g. key-off samples); most
// instruments register none.
func (m *VoiceSpawnerMatrix) SpawnRelease(control voice.ControlData, key, vel uint8) []voice.Voice {
	return spawnAll(m.release[cellIndex(key, vel)], control, vel)
}

func spawnAll(spawners []VoiceSpawner, control voice.ControlData, vel uint8) []voice.Voice {
	if len(spawners) == 0 {
		return nil
	}
	voices := make([]voice.Voice, len(spawners))
	for i, s := range spawners {
		voices[i] = s.SpawnVoice(control, vel)
	}
	return voices
}
