package soundfont

import "github.com/cbegin/xsynth-go/internal/voice"

// ChannelSoundfont binds a channel's current (bank, preset) selection to a
// stack of soundfonts, rebuilding the 128x128 voice-spawner matrix whenever
// the selection changes. Soundfonts are searched in order; the first one
// with a non-empty answer for a cell wins.
//
// Fallback rules, applied only when the exact (bank, preset) comes up empty:
//   - drum kits (bank 128): fall back to (128, 0) - the default drum kit
//   - melodic banks: fall back to (0, preset) - the same preset in bank 0
type ChannelSoundfont struct {
	soundfonts []Base
	matrix     *VoiceSpawnerMatrix
	bank       uint8
	preset     uint8
}

func NewChannelSoundfont() *ChannelSoundfont {
	return &ChannelSoundfont{matrix: NewVoiceSpawnerMatrix()}
}

// SetSoundfonts replaces the soundfont stack and rebuilds the matrix for the
// current (bank, preset) selection.
func (c *ChannelSoundfont) SetSoundfonts(soundfonts []Base) {
	c.soundfonts = soundfonts
	c.rebuild(c.bank, c.preset, true)
}

// ChangeProgram selects a new (bank, preset) and rebuilds the matrix, unless
// the selection is unchanged.
func (c *ChannelSoundfont) ChangeProgram(bank, preset uint8) {
	c.rebuild(bank, preset, false)
}

func (c *ChannelSoundfont) rebuild(bank, preset uint8, force bool) {
	if !force && bank == c.bank && preset == c.preset {
		return
	}
	for key := 0; key < 128; key++ {
		for vel := 0; vel < 128; vel++ {
			k, v := uint8(key), uint8(vel)
			c.matrix.SetAttackSpawners(k, v, c.resolve(bank, preset, k, v, true))
			c.matrix.SetReleaseSpawners(k, v, c.resolve(bank, preset, k, v, false))
		}
	}
	c.bank, c.preset = bank, preset
}

func (c *ChannelSoundfont) lookup(bank, preset, key, vel uint8, attack bool) []VoiceSpawner {
	for _, sf := range c.soundfonts {
		var s []VoiceSpawner
		if attack {
			s = sf.AttackSpawnersAt(bank, preset, key, vel)
		} else {
			s = sf.ReleaseSpawnersAt(bank, preset, key, vel)
		}
		if len(s) > 0 {
			return s
		}
	}
	return nil
}

func (c *ChannelSoundfont) resolve(bank, preset, key, vel uint8, attack bool) []VoiceSpawner {
	if s := c.lookup(bank, preset, key, vel, attack); len(s) > 0 {
		return s
	}
	if bank == 128 {
		return c.lookup(128, 0, key, vel, attack)
	}
	return c.lookup(0, preset, key, vel, attack)
}

// SpawnAttack fires the voice spawners currently bound to (key, vel).
func (c *ChannelSoundfont) SpawnAttack(control voice.ControlData, key, vel uint8) []voice.Voice {
	return c.matrix.SpawnAttack(control, key, vel)
}

// SpawnRelease fires any release-layer voice spawners bound to (key, vel).
func (c *ChannelSoundfont) SpawnRelease(control voice.ControlData, key, vel uint8) []voice.Voice {
	return c.matrix.SpawnRelease(control, key, vel)
}
