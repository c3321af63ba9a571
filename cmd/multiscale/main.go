// Command multiscale applies the parallel filtering engines to image files:
// spatial and FFT convolution, morphological filtering, multiscale
// decomposition and noise evaluation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"multiscale/internal/logging"
	"multiscale/pkg/config"
	"multiscale/pkg/progress"
	"multiscale/pkg/raster"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	verbose    bool
	jsonLog    bool
	threads    int
	quiet      bool

	cfg    *config.Config
	logger *logrus.Logger
}

func main() {
	a := &app{}
	root := a.rootCommand()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "multiscale",
		Short:         "Parallel image filtering and multiscale analysis",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "multiscale.yaml", "Configuration file (YAML, or TOML with a .toml extension)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&a.jsonLog, "json-log", false, "Log in JSON format")
	flags.IntVar(&a.threads, "threads", 0, "Maximum number of worker threads (0: configuration value)")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "Do not print progress bars")

	root.AddCommand(
		a.convolveCommand(),
		a.fftConvolveCommand(),
		a.morphCommand(),
		a.decomposeCommand(),
		a.noiseCommand(),
		a.initConfigCommand(),
	)
	return root
}

// setup loads the configuration and applies the global flags over it.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Output.Verbose = a.verbose
	}
	if cmd.Flags().Changed("json-log") {
		cfg.Output.JSONLog = a.jsonLog
	}
	if a.threads > 0 {
		cfg.Parallel.Enabled = a.threads > 1
		cfg.Parallel.MaxProcessors = a.threads
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Output.Verbose, cfg.Output.JSONLog)
	a.logger.WithFields(logrus.Fields{
		"config":     a.configPath,
		"processors": cfg.Parallel.Processors(),
	}).Debug("Configuration loaded")
	return nil
}

// load reads an image and attaches a status monitor to it.
func (a *app) load(path string) (*raster.Image, error) {
	img, err := raster.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	a.logger.WithFields(logrus.Fields{
		"file":     path,
		"width":    img.Width(),
		"height":   img.Height(),
		"channels": img.NumberOfChannels(),
	}).Info("Image loaded")
	img.SetStatus(a.monitor())
	return img, nil
}

// monitor returns a status monitor printing a console progress bar unless
// progress output is disabled or logs are machine readable.
func (a *app) monitor() *progress.Monitor {
	m := progress.New(logrus.NewEntry(a.logger))
	if a.quiet || a.cfg.Output.JSONLog {
		return m
	}
	m.SetCallback(func(completed, total int64, label string) {
		if total <= 0 {
			return
		}
		fmt.Fprintf(os.Stderr, "\r%-32s %s", label, progress.Bar(completed, total, 40))
		if completed >= total {
			fmt.Fprintln(os.Stderr)
		}
	})
	return m
}

// save writes img and logs the destination.
func (a *app) save(img *raster.Image, path string) error {
	img.ResetSelections()
	if err := img.Save(path); err != nil {
		return err
	}
	a.logger.WithField("file", path).Info("Image saved")
	return nil
}
