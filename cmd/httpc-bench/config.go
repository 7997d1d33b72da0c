package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds everything a benchmark run needs. Values are consolidated
// from defaults, an optional YAML file, HTTPC_* environment variables and
// command-line flags, later sources winning.
type Config struct {
	Host       string  `yaml:"host" envconfig:"HTTPC_HOST"`
	Port       int     `yaml:"port" envconfig:"HTTPC_PORT"`
	Path       string  `yaml:"path" envconfig:"HTTPC_PATH"`
	Transport  string  `yaml:"transport" envconfig:"HTTPC_TRANSPORT"`
	Iterations int     `yaml:"iterations" envconfig:"HTTPC_ITERATIONS"`
	RPS        float64 `yaml:"rps" envconfig:"HTTPC_RPS"`

	// Timeout bounds each cycle; zero waits forever.
	Timeout time.Duration `yaml:"timeout" envconfig:"HTTPC_TIMEOUT"`

	SegmentSize int   `yaml:"segmentSize" envconfig:"HTTPC_SEGMENT_SIZE"`
	MaxBuffered int64 `yaml:"maxBuffered" envconfig:"HTTPC_MAX_BUFFERED"`

	MetricsAddr string `yaml:"metricsAddr" envconfig:"HTTPC_METRICS_ADDR"`
}

// NewConfig returns the defaults, which match the original fixed target.
func NewConfig() Config {
	return Config{
		Host:       "127.0.0.1",
		Port:       5000,
		Path:       "/",
		Transport:  "uring",
		Iterations: 100000,
	}
}

var transports = map[string]bool{"uring": true, "uring2": true, "unix": true, "net": true}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case !transports[c.Transport]:
		return fmt.Errorf("unknown transport %q, expected uring, uring2, unix or net", c.Transport)
	case c.Iterations < 0:
		return fmt.Errorf("iterations must not be negative, got %d", c.Iterations)
	case c.RPS < 0:
		return fmt.Errorf("rps must not be negative, got %g", c.RPS)
	case c.Transport != "unix" && (c.Port <= 0 || c.Port > 65535):
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}

func configFlagSet(c *Config) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.StringVar(&c.Host, "host", c.Host, "server host, or socket path for the unix transport")
	flags.IntVarP(&c.Port, "port", "p", c.Port, "server port")
	flags.StringVar(&c.Path, "path", c.Path, "request path")
	flags.StringVarP(&c.Transport, "transport", "t", c.Transport, "transport: uring, uring2, unix or net")
	flags.IntVarP(&c.Iterations, "iterations", "n", c.Iterations, "number of request/response cycles")
	flags.Float64Var(&c.RPS, "rps", c.RPS, "limit cycles per second, 0 for no limit")
	flags.DurationVar(&c.Timeout, "timeout", c.Timeout, "per-cycle timeout, 0 for none")
	flags.IntVar(&c.SegmentSize, "segment-size", c.SegmentSize, "receive buffer segment size in bytes")
	flags.Int64Var(&c.MaxBuffered, "max-buffered", c.MaxBuffered, "unconsumed bytes at which reading pauses")
	flags.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve Prometheus metrics on this address")
	return flags
}

// readConfigFile overlays the YAML file at path onto c.
func readConfigFile(path string, c *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return fmt.Errorf("couldn't read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("couldn't parse config file %s: %w", path, err)
	}
	return nil
}

// consolidateConfig builds the final config. flagValues holds what the flag
// set parsed into; only flags the user actually set override the rest.
func consolidateConfig(
	flags *pflag.FlagSet, flagValues Config, configPath string, lookupEnv func(string) (string, bool),
) (Config, error) {
	result := NewConfig()
	if configPath != "" {
		if err := readConfigFile(configPath, &result); err != nil {
			return result, err
		}
	}
	if err := envconfig.Process("", &result, lookupEnv); err != nil {
		return result, err
	}

	flags.VisitAll(func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		switch f.Name {
		case "host":
			result.Host = flagValues.Host
		case "port":
			result.Port = flagValues.Port
		case "path":
			result.Path = flagValues.Path
		case "transport":
			result.Transport = flagValues.Transport
		case "iterations":
			result.Iterations = flagValues.Iterations
		case "rps":
			result.RPS = flagValues.RPS
		case "timeout":
			result.Timeout = flagValues.Timeout
		case "segment-size":
			result.SegmentSize = flagValues.SegmentSize
		case "max-buffered":
			result.MaxBuffered = flagValues.MaxBuffered
		case "metrics-addr":
			result.MetricsAddr = flagValues.MetricsAddr
		}
	})

	return result, result.Validate()
}
