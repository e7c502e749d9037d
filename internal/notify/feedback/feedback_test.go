package feedback

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddleup/huddle-notify/internal/notify/model"
)

type fakePlayer struct {
	preloads int
	plays    int
	err      error
}

func (p *fakePlayer) Preload() error { p.preloads++; return p.err }
func (p *fakePlayer) Play() error    { p.plays++; return p.err }

type fakeVibrator struct {
	supported bool
	pulses    []time.Duration
	err       error
}

func (v *fakeVibrator) Supported() bool { return v.supported }
func (v *fakeVibrator) Vibrate(d time.Duration) error {
	v.pulses = append(v.pulses, d)
	return v.err
}

func newTestPrefs(t *testing.T) *Preferences {
	t.Helper()
	prefs, err := NewPreferences(filepath.Join(t.TempDir(), "prefs.yaml"))
	require.NoError(t, err)
	return prefs
}

func newTestEmitter(t *testing.T, player *fakePlayer, vibrator *fakeVibrator, surface Surface) (*Emitter, *Preferences) {
	t.Helper()
	prefs := newTestPrefs(t)
	cfg := Config{
		Prefs:   prefs,
		Surface: surface,
	}
	// Assign only non-nil fakes so a nil *fakePlayer/*fakeVibrator does not
	// become a non-nil interface holding a typed nil.
	if player != nil {
		cfg.Player = player
	}
	if vibrator != nil {
		cfg.Vibrator = vibrator
	}
	e := New(cfg)
	return e, prefs
}

func TestPreferencesDefaultTrue(t *testing.T) {
	prefs := newTestPrefs(t)
	assert.True(t, prefs.SoundEnabled())
	assert.True(t, prefs.VibrationEnabled())
}

func TestPreferencesPersistAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")

	first, err := NewPreferences(path)
	require.NoError(t, err)
	require.NoError(t, first.SetSoundEnabled(false))

	second, err := NewPreferences(path)
	require.NoError(t, err)
	assert.False(t, second.SoundEnabled())
	assert.True(t, second.VibrationEnabled())
}

func TestPreferencesReadFresh(t *testing.T) {
	// A toggle written by another instance takes effect on the next read
	// without reconstructing the reader.
	path := filepath.Join(t.TempDir(), "prefs.yaml")

	reader, err := NewPreferences(path)
	require.NoError(t, err)
	writer, err := NewPreferences(path)
	require.NoError(t, err)

	assert.True(t, reader.SoundEnabled())
	require.NoError(t, writer.SetSoundEnabled(false))
	assert.False(t, reader.SoundEnabled())
}

func TestPreferencesWriterStillSeesExternalToggles(t *testing.T) {
	// An instance that has written a flag itself must keep observing later
	// toggles made through another instance.
	path := filepath.Join(t.TempDir(), "prefs.yaml")

	a, err := NewPreferences(path)
	require.NoError(t, err)
	b, err := NewPreferences(path)
	require.NoError(t, err)

	require.NoError(t, a.SetSoundEnabled(true))
	require.NoError(t, b.SetSoundEnabled(false))
	assert.False(t, a.SoundEnabled())

	require.NoError(t, a.SetVibrationEnabled(false))
	require.NoError(t, b.SetVibrationEnabled(true))
	assert.True(t, a.VibrationEnabled())

	// The writer's other flag is untouched by the external toggle
	assert.False(t, a.SoundEnabled())
}

func TestEmitterSoundGates(t *testing.T) {
	rec := &model.Record{ID: "n1", Kind: model.KindReaction, CreatedAt: time.Now()}

	tests := []struct {
		name      string
		arm       bool
		soundPref bool
		surface   Surface
		wantPlays int
	}{
		{"armed focused and enabled", true, true, StaticSurface{IsVisible: true, IsFocused: true}, 1},
		{"not armed", false, true, StaticSurface{IsVisible: true, IsFocused: true}, 0},
		{"preference off", true, false, StaticSurface{IsVisible: true, IsFocused: true}, 0},
		{"surface hidden", true, true, StaticSurface{IsVisible: false, IsFocused: true}, 0},
		{"surface unfocused", true, true, StaticSurface{IsVisible: true, IsFocused: false}, 0},
		{"no surface means no gate", true, true, nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			player := &fakePlayer{}
			e, prefs := newTestEmitter(t, player, nil, tt.surface)
			require.NoError(t, prefs.SetSoundEnabled(tt.soundPref))
			if tt.arm {
				e.Arm()
			}

			e.Notify(rec)
			assert.Equal(t, tt.wantPlays, player.plays)
		})
	}
}

func TestEmitterVibrationGates(t *testing.T) {
	rec := &model.Record{ID: "n1", Kind: model.KindReaction, CreatedAt: time.Now()}

	tests := []struct {
		name       string
		pref       bool
		supported  bool
		wantPulses int
	}{
		{"enabled and supported", true, true, 1},
		{"preference off", false, true, 0},
		{"unsupported platform", true, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vibrator := &fakeVibrator{supported: tt.supported}
			e, prefs := newTestEmitter(t, nil, vibrator, nil)
			require.NoError(t, prefs.SetVibrationEnabled(tt.pref))

			e.Notify(rec)
			assert.Len(t, vibrator.pulses, tt.wantPulses)
		})
	}
}

func TestEmitterVibrationPulseDuration(t *testing.T) {
	vibrator := &fakeVibrator{supported: true}
	prefs := newTestPrefs(t)
	e := New(Config{Prefs: prefs, Vibrator: vibrator, Pulse: 150 * time.Millisecond})

	e.Notify(&model.Record{ID: "n1"})
	require.Len(t, vibrator.pulses, 1)
	assert.Equal(t, 150*time.Millisecond, vibrator.pulses[0])
}

func TestEmitterDefaultPulse(t *testing.T) {
	vibrator := &fakeVibrator{supported: true}
	prefs := newTestPrefs(t)
	e := New(Config{Prefs: prefs, Vibrator: vibrator})

	e.Notify(&model.Record{ID: "n1"})
	require.Len(t, vibrator.pulses, 1)
	assert.Equal(t, 200*time.Millisecond, vibrator.pulses[0])
}

func TestEmitterArmIsSticky(t *testing.T) {
	e, _ := newTestEmitter(t, &fakePlayer{}, nil, nil)
	assert.False(t, e.Armed())
	e.Arm()
	assert.True(t, e.Armed())
	e.Arm()
	assert.True(t, e.Armed())
}

func TestEmitterDeviceFailuresNeverPropagate(t *testing.T) {
	player := &fakePlayer{err: errors.New("codec unavailable")}
	vibrator := &fakeVibrator{supported: true, err: errors.New("no actuator")}
	e, _ := newTestEmitter(t, player, vibrator, nil)
	e.Arm()

	// Must not panic and must attempt both channels
	e.Preload()
	e.Notify(&model.Record{ID: "n1"})

	assert.Equal(t, 1, player.preloads)
	assert.Equal(t, 1, player.plays)
	assert.Len(t, vibrator.pulses, 1)
}

func TestEmitterNilDevices(t *testing.T) {
	e, _ := newTestEmitter(t, nil, nil, nil)
	e.Arm()
	e.Preload()
	e.Notify(&model.Record{ID: "n1"})
}
