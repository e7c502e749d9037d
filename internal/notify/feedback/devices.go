package feedback

import "time"

// NopPlayer is the Player used when the embedding surface has no audio
// output.
type NopPlayer struct{}

func (NopPlayer) Preload() error { return nil }
func (NopPlayer) Play() error    { return nil }

// NopVibrator reports no haptic capability
type NopVibrator struct{}

func (NopVibrator) Supported() bool             { return false }
func (NopVibrator) Vibrate(time.Duration) error { return nil }

// StaticSurface is a Surface with fixed visibility/focus, useful for
// headless embeddings and tests.
type StaticSurface struct {
	IsVisible bool
	IsFocused bool
}

func (s StaticSurface) Visible() bool { return s.IsVisible }
func (s StaticSurface) Focused() bool { return s.IsFocused }
