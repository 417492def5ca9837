package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jbweber/corral/internal/config"
	"github.com/jbweber/corral/internal/control"
	"github.com/jbweber/corral/internal/logging"
	"github.com/jbweber/corral/internal/output"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath   string
	outputFormat string
	noHeaders    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "corral",
	Short: "Corral - libvirt domain lifecycle manager",
	Long: `Corral manages the lifecycle of libvirt domains described by YAML definitions.

Persistent definitions live in the config directory. The running configuration
of every active domain is kept in the state directory so that a restarted
corral adopts the guests it launched instead of starting them again.

"corral serve" owns every domain: it watches guests, reacts to shutdowns,
crashes and reboots, and accepts the other commands on its control socket.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the corral configuration file")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", string(output.FormatTable), "output format: table, yaml or json")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false, "omit table headers")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(defineCmd, createCmd, startCmd, shutdownCmd, rebootCmd)
	rootCmd.AddCommand(destroyCmd, undefineCmd, resumeCmd)
	rootCmd.AddCommand(listCmd, getCmd, infoCmd, dumpCmd)
	rootCmd.AddCommand(testConnCmd)
}

// setup loads the configuration and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// withClient runs fn against the serving corral process.
func withClient(fn func(c *control.Client) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	err = fn(control.NewClient(cfg.Control.Socket, cfg.Control.Timeout))
	if errors.Is(err, control.ErrNotServing) {
		return fmt.Errorf("%w (start it with \"corral serve\")", err)
	}
	return err
}

func newFormatter() (output.Formatter, error) {
	if err := output.ValidateFormat(outputFormat); err != nil {
		return nil, err
	}
	return output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
	})
}
