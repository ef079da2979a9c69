// Package app is the process bootstrap shared by providers and callers: it
// parses the command line, loads the config once, installs the logger and
// owns the process-wide registry session.
//
//	app.MustInit(os.Args)          // -i <configfile>
//	defer app.Instance().Close()
//	ch, _ := app.Instance().NewChannel()
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"krpc/channel"
	"krpc/config"
	"krpc/registry"

	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	ErrNoConfigFile       = errors.New("app: no config file, run with -i <configfile>")
	ErrAlreadyInitialized = errors.New("app: already initialized")
	ErrNotInitialized     = errors.New("app: not initialized")
)

// Application holds the process config, logger and registry session.
type Application struct {
	mu       sync.Mutex
	cfg      *config.Config
	logger   *zap.Logger
	registry *registry.EtcdRegistry
}

var (
	instance *Application
	instMu   sync.Mutex
)

// Instance returns the process application, creating it on first use.
func Instance() *Application {
	instMu.Lock()
	defer instMu.Unlock()
	if instance == nil {
		instance = &Application{logger: zap.L()}
	}
	return instance
}

// Init parses args (program name first), loads the file given by -i and
// installs a logger at the configured log_level. It succeeds at most once.
func Init(args []string) (*Application, error) {
	path, err := parseArgs(args)
	if err != nil {
		return nil, err
	}
	return Instance().load(path)
}

// MustInit is Init for main packages: any error is fatal.
func MustInit(args []string) *Application {
	a, err := Init(args)
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("init failed", zap.Strings("args", args), zap.Error(err))
	}
	return a
}

func parseArgs(args []string) (string, error) {
	var path string
	var ran bool

	cliApp := cli.NewApp()
	cliApp.Name = "krpc"
	if len(args) > 0 {
		cliApp.Name = args[0]
	}
	cliApp.Usage = "krpc provider or caller"
	cliApp.HideVersion = true
	cliApp.Writer = os.Stderr
	cliApp.ErrWriter = os.Stderr
	cliApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "i,config",
			Usage: "path of the key=value config file",
		},
	}
	cliApp.Action = func(c *cli.Context) error {
		ran = true
		path = c.String("i")
		if path == "" {
			return ErrNoConfigFile
		}
		return nil
	}

	if err := cliApp.Run(args); err != nil {
		return "", fmt.Errorf("app: command line: %w", err)
	}
	if !ran {
		return "", ErrNoConfigFile
	}
	return path, nil
}

func (a *Application) load(path string) (*Application, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg != nil {
		return nil, ErrAlreadyInitialized
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Get(config.KeyLogLevel))
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)

	a.cfg = cfg
	a.logger = logger
	logger.Info("config loaded", zap.String("path", path), zap.Int("keys", cfg.Len()))
	return a, nil
}

// newLogger builds a production logger, or a development one for "debug".
func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("app: %s: %w", config.KeyLogLevel, err)
	}

	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// Config returns the loaded config, or an empty one before Init.
func (a *Application) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg == nil {
		return config.New()
	}
	return a.cfg
}

// Logger returns the process logger, zap.L() before Init.
func (a *Application) Logger() *zap.Logger {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logger
}

// registryLocked returns the shared registry, creating it unconnected.
func (a *Application) registryLocked() (*registry.EtcdRegistry, error) {
	if a.cfg == nil {
		return nil, ErrNotInitialized
	}
	if a.registry == nil {
		reg, err := registry.NewFromConfig(a.cfg, registry.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		a.registry = reg
	}
	return a.registry, nil
}

// Registry returns the process registry session, connecting it if needed.
// Every caller gets the same instance.
func (a *Application) Registry(ctx context.Context) (registry.Registry, error) {
	a.mu.Lock()
	reg, err := a.registryLocked()
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := reg.Connect(ctx); err != nil {
		return nil, err
	}
	return reg, nil
}

// NewChannel returns a channel configured from the loaded config and bound to
// the shared registry. The registry session is connected on the first call.
func (a *Application) NewChannel(opts ...channel.Option) (*channel.Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	reg, err := a.registryLocked()
	if err != nil {
		return nil, err
	}
	base := []channel.Option{channel.WithLogger(a.logger)}
	return channel.NewFromConfig(a.cfg, reg, append(base, opts...)...), nil
}

// Close ends the registry session, removing the ephemeral nodes it created,
// and flushes the logger.
func (a *Application) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.registry != nil {
		err = a.registry.Close()
		a.registry = nil
	}
	a.logger.Sync()
	return err
}
