package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Paths          []string      `yaml:"paths"`
	Addr           string        `yaml:"addr"`
	AuthToken      string        `yaml:"auth_token"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	LogLevel       string        `yaml:"log_level"`
	Exec           string        `yaml:"exec"`
	RestartDelay   time.Duration `yaml:"restart_delay"`
}

// loadConfig merges, in increasing precedence: the YAML config file,
// CANOPY_* environment variables, and command-line flags. Positional
// arguments are paths to watch.
func loadConfig(args []string) (Config, error) {
	flags := flag.NewFlagSet("canopy", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	addr := flags.String("addr", "", "listen address for the HTTP interface (empty disables it)")
	token := flags.String("token", "", "bearer token required by the HTTP interface")
	logLevel := flags.String("log-level", "", "minimum log level (debug, info, warning, error)")
	execCommand := flags.String("exec", "", "command to run and restart on changes")
	restartDelay := flags.Duration("restart-delay", 0, "quiet period before restarting the exec command")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	var cfg Config
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if env := os.Getenv("CANOPY_ADDR"); env != "" {
		cfg.Addr = env
	}
	if env := os.Getenv("CANOPY_TOKEN"); env != "" {
		cfg.AuthToken = env
	}
	if env := os.Getenv("CANOPY_LOG_LEVEL"); env != "" {
		cfg.LogLevel = env
	}

	if *addr != "" {
		cfg.Addr = *addr
	}
	if *token != "" {
		cfg.AuthToken = *token
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *execCommand != "" {
		cfg.Exec = *execCommand
	}
	if *restartDelay > 0 {
		cfg.RestartDelay = *restartDelay
	}

	cfg.Paths = append(cfg.Paths, flags.Args()...)
	if len(cfg.Paths) == 0 {
		return Config{}, fmt.Errorf("no paths to watch")
	}
	return cfg, nil
}

func splitCommand(command string) []string {
	return strings.Fields(command)
}
