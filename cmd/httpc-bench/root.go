package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type rootCommand struct {
	cmd    *cobra.Command
	logger *logrus.Logger

	flagValues Config
	configFlag *pflag.FlagSet

	verbose    bool
	noColor    bool
	logFormat  string
	configPath string

	lookupEnv func(string) (string, bool)
	stdout    io.Writer
}

func newRootCommand(logger *logrus.Logger, stdout io.Writer, lookupEnv func(string) (string, bool)) *rootCommand {
	c := &rootCommand{
		logger:     logger,
		flagValues: NewConfig(),
		lookupEnv:  lookupEnv,
		stdout:     stdout,
	}
	c.configFlag = configFlagSet(&c.flagValues)

	cmd := &cobra.Command{
		Use:               "httpc-bench",
		Short:             "Repeat an HTTP/1.1 request over one keep-alive connection",
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
		RunE:              c.run,
	}
	cmd.PersistentFlags().AddFlagSet(c.persistentFlagSet())
	cmd.Flags().AddFlagSet(c.configFlag)
	c.cmd = cmd
	return c
}

func (c *rootCommand) persistentFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")
	flags.BoolVar(&c.noColor, "no-color", false, "disable colored output")
	flags.StringVar(&c.logFormat, "log-format", "", "log output format: text or json")
	flags.StringVarP(&c.configPath, "config", "c", "", "YAML config file")
	return flags
}

func (c *rootCommand) persistentPreRunE(_ *cobra.Command, _ []string) error {
	if c.verbose {
		c.logger.SetLevel(logrus.DebugLevel)
	}
	if c.noColor {
		color.NoColor = true
	}
	switch c.logFormat {
	case "json":
		c.logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		c.logger.SetFormatter(&logrus.TextFormatter{DisableColors: c.noColor})
	default:
		return fmt.Errorf("unknown log format %q", c.logFormat)
	}
	return nil
}

func (c *rootCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := consolidateConfig(c.configFlag, c.flagValues, c.configPath, c.lookupEnv)
	if err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"host":       cfg.Host,
		"port":       cfg.Port,
		"transport":  cfg.Transport,
		"iterations": cfg.Iterations,
	}).Debug("starting")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := newBenchMetrics(reg)
	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, cfg.MetricsAddr, reg, c.logger)
	}

	res, err := runBench(ctx, cfg, c.logger, m)
	if err != nil {
		return err
	}
	printSummary(c.stdout, cfg, res)
	if res.Completed < cfg.Iterations {
		return fmt.Errorf("stopped after %d of %d cycles", res.Completed, cfg.Iterations)
	}
	return nil
}

func printSummary(w io.Writer, cfg Config, res benchResult) {
	ok := color.New(color.FgGreen, color.Bold)
	bad := color.New(color.FgRed, color.Bold)
	faint := color.New(color.Faint)

	status := ok
	if res.Completed < cfg.Iterations {
		status = bad
	}
	status.Fprintf(w, "%d/%d cycles completed", res.Completed, cfg.Iterations)
	faint.Fprintf(w, " in %s", res.Elapsed)
	if res.Completed > 0 && res.Elapsed > 0 {
		faint.Fprintf(w, " (%.0f/s)", float64(res.Completed)/res.Elapsed.Seconds())
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "last state: %s, status: %d, content length: %d\n",
		res.LastState, res.LastStatus, res.LastContentLength)
	if res.Err != nil {
		bad.Fprintf(w, "error: %v\n", res.Err)
	}
}

func execute() {
	logger := &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}

	c := newRootCommand(logger, color.Output, os.LookupEnv)
	if err := c.cmd.ExecuteContext(context.Background()); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}
