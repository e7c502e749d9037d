// Package feedback produces audio/haptic feedback for accepted
// notifications, respecting user preference and surface focus.
package feedback

import (
	"sync/atomic"
	"time"

	"github.com/huddleup/huddle-notify/internal/notify/model"
	"github.com/huddleup/huddle-notify/internal/platform/logger"
	"github.com/huddleup/huddle-notify/internal/platform/metrics"
)

// Player plays the notification chime. Preload is called at connection time
// so first playback is not delayed by asset loading.
type Player interface {
	Preload() error
	Play() error
}

// Vibrator produces a haptic pulse. Supported reports platform capability;
// an unsupported platform is a silent no-op, never an error.
type Vibrator interface {
	Supported() bool
	Vibrate(d time.Duration) error
}

// Surface reports whether the hosting surface is currently visible and
// focused; feedback on a backgrounded surface is disruptive.
type Surface interface {
	Visible() bool
	Focused() bool
}

// Emitter gates and fires feedback for accepted notifications
type Emitter struct {
	prefs    *Preferences
	player   Player
	vibrator Vibrator
	surface  Surface
	pulse    time.Duration
	armed    atomic.Bool
	logger   logger.Logger
	metrics  *metrics.Metrics
}

// Config holds emitter construction options
type Config struct {
	Prefs    *Preferences
	Player   Player
	Vibrator Vibrator
	Surface  Surface
	// Pulse is the vibration duration; defaults to 200ms.
	Pulse   time.Duration
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

// New creates an emitter
func New(cfg Config) *Emitter {
	if cfg.Pulse <= 0 {
		cfg.Pulse = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Emitter{
		prefs:    cfg.Prefs,
		player:   cfg.Player,
		vibrator: cfg.Vibrator,
		surface:  cfg.Surface,
		pulse:    cfg.Pulse,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Arm marks that the user has interacted with the surface at least once.
// Audio cannot fire before this; once armed it is never re-armed.
func (e *Emitter) Arm() {
	e.armed.Store(true)
}

// Armed reports whether a user gesture has been observed
func (e *Emitter) Armed() bool {
	return e.armed.Load()
}

// Preload warms the audio asset; failures are logged, never returned
func (e *Emitter) Preload() {
	if e.player == nil {
		return
	}
	if err := e.player.Preload(); err != nil {
		e.logger.Warn("Failed to preload notification sound", "error", err)
	}
}

// Notify fires feedback for an accepted notification. Preference flags are
// read fresh on every call so a toggle in another tab takes effect
// immediately. All failures are logged, never propagated.
func (e *Emitter) Notify(rec *model.Record) {
	e.emitSound()
	e.emitVibration()
}

func (e *Emitter) emitSound() {
	if e.player == nil {
		return
	}
	switch {
	case !e.prefs.SoundEnabled():
		e.suppress("sound", "preference")
	case !e.armed.Load():
		e.suppress("sound", "not_armed")
	case e.surface != nil && (!e.surface.Visible() || !e.surface.Focused()):
		e.suppress("sound", "background")
	default:
		if err := e.player.Play(); err != nil {
			e.logger.Warn("Notification sound playback failed", "error", err)
			return
		}
		e.emit("sound")
	}
}

func (e *Emitter) emitVibration() {
	if e.vibrator == nil {
		return
	}
	switch {
	case !e.prefs.VibrationEnabled():
		e.suppress("vibration", "preference")
	case !e.vibrator.Supported():
		// Missing capability is not an error condition
		e.suppress("vibration", "unsupported")
	default:
		if err := e.vibrator.Vibrate(e.pulse); err != nil {
			e.logger.Warn("Vibration failed", "error", err)
			return
		}
		e.emit("vibration")
	}
}

func (e *Emitter) emit(channel string) {
	if e.metrics != nil {
		e.metrics.FeedbackEmitted.WithLabelValues(channel).Inc()
	}
}

func (e *Emitter) suppress(channel, gate string) {
	if e.metrics != nil {
		e.metrics.FeedbackSuppressed.WithLabelValues(channel, gate).Inc()
	}
}
