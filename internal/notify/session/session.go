// Package session wires the notification pipeline together for the
// lifetime of a logged-in user: transport, filter, store, feedback and
// gateway behind one explicitly constructed object instead of process-wide
// singletons.
package session

import (
	"context"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/huddleup/huddle-notify/internal/notify/feedback"
	"github.com/huddleup/huddle-notify/internal/notify/filter"
	"github.com/huddleup/huddle-notify/internal/notify/gateway"
	"github.com/huddleup/huddle-notify/internal/notify/model"
	"github.com/huddleup/huddle-notify/internal/notify/store"
	"github.com/huddleup/huddle-notify/internal/notify/transport"
	"github.com/huddleup/huddle-notify/internal/platform/config"
	"github.com/huddleup/huddle-notify/internal/platform/logger"
	"github.com/huddleup/huddle-notify/internal/platform/metrics"
)

// Session owns the notification pipeline for one logged-in user
type Session struct {
	cfg     *config.Config
	logger  logger.Logger
	metrics *metrics.Metrics

	Transport *transport.Client
	Store     *store.Store
	Gateway   *gateway.Gateway
	Feedback  *feedback.Emitter

	cron      *cron.Cron
	unsubPush func()
	userID    string
}

// Options allows injecting feedback devices; nil fields get no-op defaults
type Options struct {
	Player   feedback.Player
	Vibrator feedback.Vibrator
	Surface  feedback.Surface
}

// New builds an unstarted session from configuration
func New(cfg *config.Config, log logger.Logger, m *metrics.Metrics, opts Options) (*Session, error) {
	if log == nil {
		log = logger.NewNop()
	}

	prefs, err := feedback.NewPreferences(cfg.Feedback.PreferencesPath)
	if err != nil {
		return nil, err
	}

	if opts.Player == nil {
		opts.Player = feedback.NopPlayer{}
	}
	if opts.Vibrator == nil {
		opts.Vibrator = feedback.NopVibrator{}
	}
	if opts.Surface == nil {
		opts.Surface = feedback.StaticSurface{IsVisible: true, IsFocused: true}
	}

	f := filter.New(filter.Config{
		StaleWindow:  cfg.Filter.StaleWindow,
		RepeatWindow: cfg.Filter.RepeatWindow,
	}, m)

	st := store.New(m)

	gw := gateway.New(gateway.Config{
		BaseURL:        cfg.Backend.HTTPBaseURL,
		RequestTimeout: cfg.Gateway.RequestTimeout,
		Mode:           gateway.Mode(cfg.Gateway.Mode),
		Logger:         log,
		Metrics:        m,
	})

	fb := feedback.New(feedback.Config{
		Prefs:    prefs,
		Player:   opts.Player,
		Vibrator: opts.Vibrator,
		Surface:  opts.Surface,
		Pulse:    cfg.Feedback.VibrationPulse,
		Logger:   log,
		Metrics:  m,
	})

	tc := transport.New(transport.Config{
		SocketURL:     cfg.Backend.SocketURL,
		ProbeURL:      strings.TrimRight(cfg.Backend.HTTPBaseURL, "/") + "/health",
		ProbeTimeout:  cfg.Backend.ProbeTimeout,
		BaseDelay:     cfg.Transport.BaseDelay,
		MaxAttempts:   cfg.Transport.MaxAttempts,
		PingInterval:  cfg.Transport.PingInterval,
		ReadDeadline:  cfg.Transport.ReadDeadline,
		WriteDeadline: cfg.Transport.WriteDeadline,
		Filter:        f,
		Logger:        log,
		Metrics:       m,
	})

	return &Session{
		cfg:       cfg,
		logger:    log,
		metrics:   m,
		Transport: tc,
		Store:     st,
		Gateway:   gw,
		Feedback:  fb,
	}, nil
}

// Start connects the transport, hydrates the store and schedules periodic
// reconciliation re-fetches.
func (s *Session) Start(ctx context.Context, userID, token string) error {
	s.userID = userID
	s.Gateway.SetToken(token)
	s.Feedback.Preload()

	// Accepted pushes flow into the store and trigger feedback
	s.unsubPush = s.Transport.OnNotification(s.onPush)

	if err := s.Transport.Connect(userID, token); err != nil {
		return err
	}

	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("Initial notification fetch failed", "error", err)
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.Session.RefreshSpec, func() {
		if err := s.Refresh(context.Background()); err != nil {
			s.logger.Warn("Scheduled notification refresh failed", "error", err)
		}
	}); err != nil {
		return err
	}
	s.cron.Start()

	return nil
}

// Close tears the session down on logout: stops reconciliation, drops the
// connection mid-backoff if needed and clears the store.
func (s *Session) Close() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	if s.unsubPush != nil {
		s.unsubPush()
		s.unsubPush = nil
	}
	s.Transport.Disconnect()
	s.Store.RemoveAll()
}

func (s *Session) onPush(rec model.Record) {
	if s.Store.IngestPush(rec) {
		s.Feedback.Notify(&rec)
	}
}

// Refresh is the reconciliation hook: re-fetch the first page and merge it
// into the store, then cross-check the unread count against the server.
// The locally derived count stays authoritative.
func (s *Session) Refresh(ctx context.Context) error {
	page, err := s.Gateway.FetchPage(ctx, s.userID, s.cfg.Session.PageSize, 0, nil)
	if err != nil {
		return err
	}
	s.Store.Hydrate(*page)

	if serverUnread, err := s.Gateway.UnreadCount(ctx); err == nil {
		if local := s.Store.UnreadCount(); serverUnread != local {
			s.logger.Info("Unread count diverged from server",
				"local", local, "server", serverUnread)
		}
	}
	return nil
}

// LoadMore fetches the next page using the store's pagination cursor
func (s *Session) LoadMore(ctx context.Context) error {
	if !s.Store.HasMore() {
		return nil
	}
	page, err := s.Gateway.FetchPage(ctx, s.userID, s.cfg.Session.PageSize, s.Store.NextSkip(), nil)
	if err != nil {
		return err
	}
	s.Store.Hydrate(*page)
	return nil
}

// MarkRead applies the optimistic local mutation first; a server failure is
// absorbed by the gateway's leniency policy and never rolls the local
// change back.
func (s *Session) MarkRead(ctx context.Context, id string) error {
	s.Store.MarkRead(id)
	return s.Gateway.MarkRead(ctx, id)
}

// MarkAllRead marks everything read, optimistically
func (s *Session) MarkAllRead(ctx context.Context) error {
	s.Store.MarkAllRead()
	return s.Gateway.MarkAllRead(ctx)
}

// Remove deletes one notification, optimistically
func (s *Session) Remove(ctx context.Context, id string) error {
	s.Store.Remove(id)
	return s.Gateway.Delete(ctx, id)
}

// RemoveAll clears all notifications, optimistically
func (s *Session) RemoveAll(ctx context.Context) error {
	s.Store.RemoveAll()
	return s.Gateway.DeleteAll(ctx)
}
