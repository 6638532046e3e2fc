package syncmgr

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/repositories/watch"
	"golang.org/x/sync/errgroup"
)

// Run keeps the peers resolved until ctx is done: a full resolve cycle every
// ResolveInterval, a pending cycle whenever Kick is called, heartbeats to
// connected peers every HeartbeatInterval, and a handler set that follows the
// PeerRecord table.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Reconcile(ctx); err != nil {
		return err
	}
	events := m.peers.Watch(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.resolveLoop(gctx) })
	g.Go(func() error { return m.heartbeatLoop(gctx) })
	g.Go(func() error {
		for ev := range events {
			switch ev.Op {
			case watch.OpDelete:
				m.removeHandler(ev.Key)
			case watch.OpUpsert:
				m.addHandler(ev.Key)
			}
		}
		return nil
	})
	return g.Wait()
}

func (m *Manager) resolveLoop(ctx context.Context) error {
	m.resolveLogged(ctx, ResolveAll)

	ticker := time.NewTicker(interval(m.cfg.ResolveInterval, 30*time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.resolveLogged(ctx, ResolveAll)
		case <-m.kick:
			m.resolveLogged(ctx, ResolvePending)
		}
	}
}

func (m *Manager) resolveLogged(ctx context.Context, mode ResolveMode) {
	if err := m.ResolveSyncs(ctx, mode); err != nil && ctx.Err() == nil {
		m.log.Debug(ctx, "resolve cycle finished with errors", "error", err)
	}
	if err := m.Reconcile(ctx); err != nil && ctx.Err() == nil {
		m.log.Warn(ctx, "reconcile peers", "error", err)
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(interval(m.cfg.HeartbeatInterval, 15*time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(m.cfg.Parallelism)
			for _, h := range m.SyncHandlers() {
				g.Go(func() error {
					if err := h.Heartbeat(gctx); err != nil && gctx.Err() == nil {
						m.log.Debug(gctx, "heartbeat failed", "app_instance_id", h.PeerID(), "error", err)
					}
					return nil
				})
			}
			_ = g.Wait()
		}
	}
}

func interval(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
