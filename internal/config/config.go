// Package config loads session and transport configuration, grounded
// on the teacher's bridge config loader: spf13/pflag defines typed
// flags with defaults, spf13/viper binds them, overlays environment
// variables, and optionally a config file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Options configures a session's jitter buffer, command timeout,
// reconnect backoff, discovery port, wire diagnostics, and WebRTC
// transport parameters.
type Options struct {
	TargetMs            int      `mapstructure:"jitter-target-ms"`
	MaxQueueMs          int      `mapstructure:"jitter-max-queue-ms"`
	CommandTimeout      int      `mapstructure:"command-timeout-ms"`
	ReconnectMaxBackoff int      `mapstructure:"reconnect-max-backoff-ms"`
	DiscoveryPort       int      `mapstructure:"discovery-port"`
	WireLogFile         string   `mapstructure:"wire-log-file"`
	StunURLs            []string `mapstructure:"stun"`
	NAT1To1IPs          []string `mapstructure:"nat-1to1-ips"`

	ConfigFile string `mapstructure:"-"`
}

// Defaults returns the Options a freshly constructed FlagSet would
// produce, for callers that want configuration without touching
// flags, the environment, or the filesystem.
func Defaults() Options {
	return Options{
		TargetMs:            60,
		MaxQueueMs:          120,
		CommandTimeout:      5000,
		ReconnectMaxBackoff: 5000,
		DiscoveryPort:       4992,
		WireLogFile:         "",
		StunURLs: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun.cloudflare.com:3478",
		},
		NAT1To1IPs: nil,
	}
}

// Load parses fs (after registering the flags it defines), binds it
// through viper with an FLEX_ environment prefix and an optional
// config file, and unmarshals the result into Options.
func Load(fs *pflag.FlagSet) (Options, error) {
	d := Defaults()

	fs.Int("jitter-target-ms", d.TargetMs, "Target audio/pan delivery latency in milliseconds")
	fs.Int("jitter-max-queue-ms", d.MaxQueueMs, "Maximum buffered frame span before dropping the oldest")
	fs.Int("command-timeout-ms", d.CommandTimeout, "Time to wait for a command reply before failing it")
	fs.Int("reconnect-max-backoff-ms", d.ReconnectMaxBackoff, "Cap on reconnect backoff delay")
	fs.Int("discovery-port", d.DiscoveryPort, "UDP discovery port")
	fs.String("wire-log-file", d.WireLogFile, "Path to log raw control-line traffic (empty disables)")
	fs.StringSlice("stun", d.StunURLs, "Comma-separated STUN URLs for WebRTC transport")
	fs.StringSlice("nat-1to1-ips", d.NAT1To1IPs, "Optional public IPs for NAT 1:1 mapping")
	fs.String("config", "", "Path to optional config file")

	if !fs.Parsed() {
		// Tolerate flags this FlagSet doesn't define (e.g. a test
		// binary's own -test.* flags riding along on os.Args) rather
		// than failing Load for arguments that were never meant for it.
		fs.ParseErrorsWhitelist = pflag.ParseErrorsWhitelist{UnknownFlags: true}
		if err := fs.Parse(os.Args[1:]); err != nil {
			if err == pflag.ErrHelp {
				return Options{}, err
			}
			return Options{}, fmt.Errorf("config: parse flags: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("FLEX")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := v.BindPFlags(fs); err != nil {
		return Options{}, fmt.Errorf("config: bind flags: %w", err)
	}

	cfgFile := v.GetString("config")
	if envFile := os.Getenv("FLEX_CONFIG"); envFile != "" {
		cfgFile = envFile
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("flexcore")
		v.AddConfigPath(".")
	}
	_ = v.ReadInConfig() // absence of a config file is not an error

	var opt Options
	if err := v.Unmarshal(&opt); err != nil {
		return Options{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	opt.ConfigFile = v.ConfigFileUsed()

	if opt.MaxQueueMs < opt.TargetMs {
		return Options{}, fmt.Errorf("config: jitter-max-queue-ms (%d) must be >= jitter-target-ms (%d)", opt.MaxQueueMs, opt.TargetMs)
	}

	return opt, nil
}
