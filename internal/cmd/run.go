// Package cmd wires the relay's components into a running process: the relay
// listener, the admin API and the config watcher, with ordered shutdown.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/faultsys/alertrelay/internal/api"
	"github.com/faultsys/alertrelay/internal/config"
	"github.com/faultsys/alertrelay/internal/logging"
	"github.com/faultsys/alertrelay/internal/relay"
	"github.com/faultsys/alertrelay/internal/util"
	"github.com/faultsys/alertrelay/internal/watcher"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds how long Run waits for sessions to drain.
const DefaultShutdownTimeout = 10 * time.Second

// Service is one relay process.
type Service struct {
	cfg             *config.Config
	configPath      string
	loader          watcher.Loader
	shutdownTimeout time.Duration

	relay   *relay.Server
	admin   *api.Server
	watcher *watcher.Watcher
}

// NewService builds the relay and, when admin.addr is set, the admin server.
// configPath and loader enable hot reload; either may be empty.
func NewService(cfg *config.Config, configPath string, loader watcher.Loader) *Service {
	s := &Service{
		cfg:             cfg,
		configPath:      configPath,
		loader:          loader,
		shutdownTimeout: DefaultShutdownTimeout,
		relay:           relay.NewServer(relay.OptionsFromConfig(cfg)),
	}
	if cfg.Admin.Addr != "" {
		s.admin = api.NewServer(cfg.Admin.Addr, s.relay)
	}
	return s
}

// Relay returns the relay server.
func (s *Service) Relay() *relay.Server {
	return s.relay
}

// Admin returns the admin server, or nil when disabled.
func (s *Service) Admin() *api.Server {
	return s.admin
}

// StartService runs a service for cfg until ctx is cancelled.
func StartService(ctx context.Context, cfg *config.Config, configPath string, loader watcher.Loader) error {
	return NewService(cfg, configPath, loader).Run(ctx)
}

// Run binds every listener, then serves until ctx is cancelled or a serve loop
// fails, and shuts down in order: relay sessions, admin API, watcher. A bind
// failure is returned before anything is left running.
func (s *Service) Run(ctx context.Context) error {
	if err := s.relay.Start(ctx); err != nil {
		return err
	}
	if s.admin != nil {
		if err := s.admin.Start(ctx); err != nil {
			_ = s.relay.Shutdown(context.Background())
			return err
		}
	}
	s.startWatcher(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.relay.Wait(); err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		return nil
	})
	if s.admin != nil {
		g.Go(func() error {
			if err := s.admin.Wait(); err != nil {
				return fmt.Errorf("admin: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return s.shutdown()
	})
	return g.Wait()
}

func (s *Service) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := drained("relay", s.relay.Shutdown(ctx)); err != nil {
		errs = append(errs, fmt.Errorf("relay shutdown: %w", err))
	}
	if s.admin != nil {
		if err := drained("admin", s.admin.Shutdown(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
		}
	}
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("watcher stop: %w", err))
		}
	}
	return errors.Join(errs...)
}

// drained logs a shutdown deadline instead of returning it; listeners are
// closed either way.
func drained(component string, err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		log.WithField("component", component).Warnf("shutdown deadline reached, remaining connections dropped: %v", err)
		return nil
	}
	return err
}

func (s *Service) startWatcher(ctx context.Context) {
	if s.configPath == "" {
		return
	}
	if _, err := os.Stat(s.configPath); err != nil {
		log.Debugf("config file %s not present, hot reload disabled", s.configPath)
		return
	}
	w, err := watcher.NewWatcher(s.configPath, s.loader, s.applyReload)
	if err != nil {
		log.Warnf("failed to create config watcher: %v", err)
		return
	}
	w.SetConfig(s.cfg)
	if err = w.Start(ctx); err != nil {
		log.Warnf("failed to start config watcher: %v", err)
		_ = w.Stop()
		return
	}
	s.watcher = w
}

// applyReload applies the settings that can change at runtime.
func (s *Service) applyReload(old, updated *config.Config) {
	util.SetLogLevel(updated)
	if old == nil || old.LoggingToFile != updated.LoggingToFile || old.LogsMaxTotalSizeMB != updated.LogsMaxTotalSizeMB {
		if err := logging.ConfigureLogOutput(updated); err != nil {
			log.Errorf("failed to reconfigure log output: %v", err)
		}
	}
}
