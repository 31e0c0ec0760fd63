package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/tusharrohilla/ppdbg"
)

type globalFlags struct {
	configPath string
	address    string
	logLevel   string

	// level is shared by every logger built from these flags.
	level zap.AtomicLevel
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		pterm.DisableStyling()
	}
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{level: zap.NewAtomicLevel()}
	root := &cobra.Command{
		Use:           "ppdbg",
		Short:         "Talk to a remote PPSSPP-style debugger over WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVarP(&g.address, "address", "a", "", "target host:port or ws:// URL (default: auto-discover)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(newSendCmd(g), newWatchCmd(g), newFakeCmd(g))
	return root
}

func (g *globalFlags) load() (ppdbg.Config, *zap.Logger, error) {
	cfg, err := ppdbg.LoadConfig(g.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if g.address != "" {
		cfg.Address = g.address
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	level, err := ppdbg.ParseLevel(cfg.Log.Level)
	if err != nil {
		return cfg, nil, err
	}
	g.level.SetLevel(level)
	logger, err := ppdbg.NewLoggerAt(cfg.Log, g.level)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

// followConfig keeps the log level in step with the config file until ctx
// ends. The --log-level flag, when given, wins over the file.
func (g *globalFlags) followConfig(ctx context.Context, logger *zap.Logger) {
	if g.configPath == "" || g.logLevel != "" {
		return
	}
	go func() {
		err := ppdbg.WatchConfig(ctx, g.configPath, logger, func(cfg ppdbg.Config) {
			level, err := ppdbg.ParseLevel(cfg.Log.Level)
			if err != nil {
				logger.Warn("ignoring log level", zap.Error(err))
				return
			}
			if level != g.level.Level() {
				g.level.SetLevel(level)
				logger.Info("log level changed", zap.Stringer("level", level))
			}
		})
		if err != nil {
			logger.Warn("config not watched", zap.Error(err))
		}
	}()
}

// connect builds a client and connects it, explicitly or by discovery.
func (g *globalFlags) connect(ctx context.Context, opts ...ppdbg.Option) (*ppdbg.Client, *zap.Logger, error) {
	cfg, logger, err := g.load()
	if err != nil {
		return nil, nil, err
	}
	opts = append([]ppdbg.Option{ppdbg.WithLogger(logger)}, opts...)
	client, err := ppdbg.New(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	spinner, _ := pterm.DefaultSpinner.Start("Connecting...")
	if cfg.Address != "" {
		err = client.Connect(ctx, cfg.Address)
	} else {
		err = client.AutoConnect(ctx)
	}
	if err != nil {
		spinner.Fail("Debugger could not connect")
		client.Close()
		return nil, nil, err
	}
	info := client.Server()
	if info.Name != "" {
		spinner.Success(fmt.Sprintf("Debugger connected (%s %s)", info.Name, info.Version))
	} else {
		spinner.Success("Debugger connected")
	}
	return client, logger, nil
}
