package feedback

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Preference keys in the persisted key-value store
const (
	KeySoundEnabled     = "notification_sound"
	KeyVibrationEnabled = "notification_vibration"
)

// Preferences is a file-backed key-value store for the two feedback flags.
// Reads go back to disk on every call so toggles made by another process
// (another tab in the original application) are never served stale. Both
// flags default to true.
type Preferences struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// NewPreferences opens the preference store at path. An empty path falls
// back to huddle-prefs.yaml in the user config directory.
func NewPreferences(path string) (*Preferences, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		path = filepath.Join(dir, "huddle-prefs.yaml")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault(KeySoundEnabled, true)
	v.SetDefault(KeyVibrationEnabled, true)

	p := &Preferences{v: v, path: path}
	// Missing file just means defaults apply
	_ = v.ReadInConfig()
	return p, nil
}

// SoundEnabled reads the sound flag fresh from disk
func (p *Preferences) SoundEnabled() bool {
	return p.readBool(KeySoundEnabled)
}

// VibrationEnabled reads the vibration flag fresh from disk
func (p *Preferences) VibrationEnabled() bool {
	return p.readBool(KeyVibrationEnabled)
}

// SetSoundEnabled persists the sound flag
func (p *Preferences) SetSoundEnabled(enabled bool) error {
	return p.writeBool(KeySoundEnabled, enabled)
}

// SetVibrationEnabled persists the vibration flag
func (p *Preferences) SetVibrationEnabled(enabled bool) error {
	return p.writeBool(KeyVibrationEnabled, enabled)
}

func (p *Preferences) readBool(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.v.ReadInConfig()
	return p.v.GetBool(key)
}

func (p *Preferences) writeBool(key string, value bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Writing through p.v would park the value in viper's override layer,
	// which shadows the file on every later read. A throwaway instance
	// keeps the read path file-backed.
	w := viper.New()
	w.SetConfigFile(p.path)
	w.SetConfigType("yaml")
	w.SetDefault(KeySoundEnabled, true)
	w.SetDefault(KeyVibrationEnabled, true)
	_ = w.ReadInConfig()
	w.Set(key, value)
	return w.WriteConfigAs(p.path)
}
