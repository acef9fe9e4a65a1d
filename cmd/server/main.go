// Package main provides the entry point for the alert relay.
// The relay accepts WebSocket clients and streams them the fault alerts read
// from the alert server's TCP client port, one text message per line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/faultsys/alertrelay/internal/buildinfo"
	"github.com/faultsys/alertrelay/internal/cmd"
	"github.com/faultsys/alertrelay/internal/config"
	"github.com/faultsys/alertrelay/internal/logging"
	"github.com/faultsys/alertrelay/internal/misc"
	"github.com/faultsys/alertrelay/internal/util"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = "config.yaml"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		port        int
		upstream    string
		debug       bool
		showVersion bool
		initConfig  string
	)
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.IntVar(&port, "port", 0, fmt.Sprintf("WebSocket listen port (default %d)", config.DefaultListenPort))
	flag.StringVar(&upstream, "upstream", "", "Alert server host:port (default 127.0.0.1:9000)")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.StringVar(&initConfig, "init-config", "", "Write the config template at this path to -config and exit")
	flag.Parse()

	fmt.Printf("alertrelay %s\n", buildinfo.String())
	if showVersion {
		return 0
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return 1
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFilePath, err := util.ResolvePath(configPath)
	if err != nil {
		log.Errorf("failed to resolve config path: %v", err)
		return 1
	}
	if initConfig != "" {
		if err = misc.CopyConfigTemplate(initConfig, configFilePath, false); err != nil {
			log.Errorf("failed to write config: %v", err)
			return 1
		}
		return 0
	}
	// The default path may be absent; an explicit one must exist.
	optional := configPath == DefaultConfigPath
	overrides := cmd.Overrides{Port: port, Upstream: upstream, Debug: debug}

	cfg, err := cmd.ResolveConfig(configFilePath, optional, overrides, os.LookupEnv)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return 1
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return 1
	}
	defer logging.CloseLogOutputs()
	util.SetLogLevel(cfg)
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := func(path string) (*config.Config, error) {
		return cmd.ResolveConfig(path, false, overrides, os.LookupEnv)
	}
	if err = cmd.StartService(ctx, cfg, configFilePath, loader); err != nil {
		log.Errorf("relay stopped with error: %v", err)
		return 1
	}
	log.Info("relay exited cleanly")
	return 0
}
