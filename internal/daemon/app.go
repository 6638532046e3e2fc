// Package daemon assembles the device sync engine and runs its loops.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gophpaste/internal/buildinfo"
	"github.com/dmitrijs2005/gophpaste/internal/common"
	"github.com/dmitrijs2005/gophpaste/internal/config"
	"github.com/dmitrijs2005/gophpaste/internal/control"
	"github.com/dmitrijs2005/gophpaste/internal/discovery"
	"github.com/dmitrijs2005/gophpaste/internal/filex"
	"github.com/dmitrijs2005/gophpaste/internal/handshake"
	"github.com/dmitrijs2005/gophpaste/internal/logging"
	"github.com/dmitrijs2005/gophpaste/internal/metrics"
	"github.com/dmitrijs2005/gophpaste/internal/peerclient"
	"github.com/dmitrijs2005/gophpaste/internal/peerserver"
	"github.com/dmitrijs2005/gophpaste/internal/platform"
	"github.com/dmitrijs2005/gophpaste/internal/securestore"
	"github.com/dmitrijs2005/gophpaste/internal/services"
	"github.com/dmitrijs2005/gophpaste/internal/storage"
	"github.com/dmitrijs2005/gophpaste/internal/syncmgr"
	"github.com/dmitrijs2005/gophpaste/internal/taskhandlers"
	"github.com/dmitrijs2005/gophpaste/internal/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ControlSubject is the subject of the token written for local clients.
const ControlSubject = "gophpastectl"

const (
	shutdownTimeout = 5 * time.Second
	searchTimeout   = 2 * time.Second
)

type options struct {
	transport discovery.Transport
	platform  platform.Provider
}

type Option func(*options)

// WithTransport replaces the multicast discovery transport.
func WithTransport(t discovery.Transport) Option { return func(o *options) { o.transport = t } }

// WithPlatform replaces the host identity provider.
func WithPlatform(p platform.Provider) Option { return func(o *options) { o.platform = p } }

type App struct {
	config *config.Config
	logger logging.Logger

	selfID    string
	repos     *storage.Repositories
	metrics   *metrics.Metrics
	handshake *handshake.Service
	manager   *syncmgr.Manager
	executor  *tasks.Executor
	pastes    *services.PasteService
	discovery *discovery.Service
	peers     *peerserver.Server
	control   *control.Server
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(c.DataDir, 0o770); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	repos, err := storage.InitDatabase(ctx, storage.FileDSN(c.Path(c.DatabaseFile)))
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app, err := build(ctx, c, logger, repos, o)
	if err != nil {
		return nil, multierr.Append(err, repos.Close())
	}
	return app, nil
}

func build(ctx context.Context, c *config.Config, logger logging.Logger, repos *storage.Repositories, o options) (*App, error) {
	selfID, err := repos.Metadata.AppInstanceID(ctx)
	if err != nil {
		return nil, err
	}
	logger = logger.With("app_instance_id", selfID)

	store := securestore.New(c.DataDir, selfID)
	identity, err := store.LoadOrCreateIdentity()
	if err != nil {
		return nil, fmt.Errorf("device identity: %w", err)
	}

	for _, sub := range []string{"files", "icons"} {
		if _, err := filex.EnsureSubDir(c.DataDir, sub); err != nil {
			return nil, err
		}
	}

	m := metrics.New(prometheus.NewRegistry())

	hs, err := handshake.NewService(selfID, identity, repos.Trust,
		handshake.Config{Freshness: c.PairingFreshness, TokenTTL: c.TokenTTL}, logger, m)
	if err != nil {
		return nil, err
	}

	client := peerclient.New(selfID, peerclient.Config{Port: c.Port, Timeout: c.RequestTimeout, Retries: 2}, logger)

	plat := o.platform
	if plat == nil {
		plat = &platform.Local{Name: c.DeviceName}
	}
	mgr := syncmgr.New(hs, repos.Peers, client, plat, syncmgr.Config{
		AppVersion:        buildinfo.Version,
		Port:              c.Port,
		ResolveInterval:   c.ResolveInterval,
		HeartbeatInterval: c.HeartbeatInterval,
		CycleTimeout:      4 * c.RequestTimeout,
	}, logger, m)

	exec := tasks.NewExecutor(repos.Tasks, tasks.Config{
		Workers:            c.Workers,
		DefaultMaxAttempts: c.TaskMaxAttempts,
		RetryDelay:         c.RetryDelay,
	}, logger, m)

	pastes := services.NewPasteService(selfID, repos.Pastes, repos.Tasks, repos.Peers, exec,
		filex.Layout{Root: c.DataDir}, c.ChunkSize, logger, m)

	taskhandlers.Register(exec, taskhandlers.Deps{
		Peers:         repos.Peers,
		Sessions:      hs,
		Client:        client,
		Pastes:        pastes,
		Tasks:         repos.Tasks,
		Log:           logger,
		Metrics:       m,
		RetentionDays: c.RetentionDays,
		MaxPastes:     c.MaxPastes,
	})

	secret, err := control.LoadOrCreateSecret(c.Path(c.JWTSecretFile))
	if err != nil {
		return nil, fmt.Errorf("control secret: %w", err)
	}
	token, err := control.GenerateToken(ControlSubject, secret, 0)
	if err != nil {
		return nil, err
	}
	if err := control.WriteTokenFile(c.Path(c.TokenFile), token); err != nil {
		return nil, fmt.Errorf("control token: %w", err)
	}

	tr := o.transport
	if tr == nil {
		if tr, err = discovery.NewMulticast(c.DiscoveryGroup, c.DiscoveryPort); err != nil {
			logger.Warn(ctx, "discovery disabled", "error", err)
			tr = nil
		}
	}
	var disco *discovery.Service
	if tr != nil {
		disco = discovery.New(tr, mgr.OwnSyncInfo, discovery.Config{Interval: c.DiscoveryInterval}, logger)
	}

	return &App{
		config:    c,
		logger:    logger,
		selfID:    selfID,
		repos:     repos,
		metrics:   m,
		handshake: hs,
		manager:   mgr,
		executor:  exec,
		pastes:    pastes,
		discovery: disco,
		peers:     peerserver.New(mgr, pastes, pastes, logger),
		control:   control.NewServer(c.ControlAddr, logger, mgr, repos.Tasks, exec, pastes, secret),
	}, nil
}

func (app *App) SelfID() string { return app.selfID }

func (app *App) Manager() *syncmgr.Manager { return app.manager }

func (app *App) Pastes() *services.PasteService { return app.pastes }

// onDiscovery feeds discovered devices into the sync manager.
func (app *App) onDiscovery(ctx context.Context, ev discovery.Event) {
	id := ev.Info.AppInfo.AppInstanceID
	var err error
	switch ev.Kind {
	case discovery.KindAnnounce:
		err = app.manager.UpdateSyncInfo(ctx, ev.Info)
	case discovery.KindBye:
		err = app.manager.MarkExit(ctx, id)
		if errors.Is(err, common.ErrorNotFound) {
			err = nil
		}
	}
	if err != nil {
		app.logger.Warn(ctx, "discovery event", "kind", ev.Kind, "app_instance_id", id, "error", err)
	}
}

func (app *App) runDiscovery(ctx context.Context) error {
	app.discovery.RegisterService(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, info := range app.discovery.Search(gctx, searchTimeout) {
			app.onDiscovery(gctx, discovery.Event{Kind: discovery.KindAnnounce, Info: info})
		}
		return nil
	})
	g.Go(func() error { return app.discovery.Browse(gctx, app.onDiscovery) })
	return g.Wait()
}

func (app *App) runCleanup(ctx context.Context) error {
	interval := app.config.CleanupInterval
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := app.pastes.ScheduleCleanup(ctx); err != nil && ctx.Err() == nil {
			app.logger.Warn(ctx, "schedule cleanup", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func serveHTTP(ctx context.Context, l net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			cancelFunc()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// Run serves until ctx is cancelled or a signal arrives, then tells peers
// this device is leaving and releases every resource.
func (app *App) Run(ctx context.Context) (err error) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.initSignalHandler(cancelFunc)()

	app.logger.Info(ctx, "Starting app...", "version", buildinfo.Version, "port", app.config.Port)

	peerListener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(app.config.Port)))
	if err != nil {
		return multierr.Append(fmt.Errorf("peer listener: %w", err), app.repos.Close())
	}

	app.executor.Start(ctx)
	if err := app.executor.Recover(ctx); err != nil {
		app.logger.Warn(ctx, "task recovery", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.manager.Run(gctx) })
	g.Go(func() error { return serveHTTP(gctx, peerListener, app.peers.Router()) })
	g.Go(func() error { return app.control.Run(gctx) })
	g.Go(func() error { return app.runCleanup(gctx) })
	if app.discovery != nil {
		g.Go(func() error { return app.runDiscovery(gctx) })
	}
	if addr := app.config.MetricsAddr; addr != "" {
		g.Go(func() error {
			l, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", app.metrics.Handler())
			return serveHTTP(gctx, l, mux)
		})
	}

	err = g.Wait()
	if err != nil {
		app.logger.Error(ctx, "app stopped with error", "error", err)
	}
	return multierr.Append(err, app.shutdown())
}

func (app *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	app.logger.Info(ctx, "Stopping app...")

	if err := app.manager.NotifyExit(ctx); err != nil {
		app.logger.Warn(ctx, "notify exit", "error", err)
	}
	var errs error
	if app.discovery != nil {
		app.discovery.UnregisterService(ctx)
		errs = multierr.Append(errs, app.discovery.Close())
	}
	app.executor.Stop()
	errs = multierr.Append(errs, app.repos.Close())
	return errs
}
