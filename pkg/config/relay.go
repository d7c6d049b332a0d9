package config

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
)

type RelayConfig struct {
	Relay  Relay
	Webrtc Webrtc

	// path of the config file the values came from, if any
	file string
}

// File returns the path of the loaded config file or an empty string.
func (c *RelayConfig) File() string { return c.file }

type Relay struct {
	Debug   bool
	LogJson bool
	// Origin restricts browser WebSocket connections to this origin,
	// empty means any origin.
	Origin string
	// Reload re-reads the ICE servers when the config file changes.
	Reload     bool
	Monitoring Monitoring
	Server     Server
	Socket     Socket
}

// Load reads the config file (a custom path may be set with the --conf flag),
// environment variables and then the command line flags on top.
func Load(name string, args []string) (conf RelayConfig, err error) {
	var path string
	pre := pflag.NewFlagSet(name, pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	pre.StringVar(&path, "conf", "", "")
	_ = pre.Parse(args)

	if err = LoadConfig(&conf, path); err != nil {
		return conf, fmt.Errorf("config: %w", err)
	}
	conf.file = Find(path)

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("conf", path, "Set custom configuration file path")
	conf.WithFlags(fs)
	if err = fs.Parse(args); err != nil {
		return conf, err
	}
	conf.fixValues()
	return conf, nil
}

func (c *RelayConfig) WithFlags(fs *pflag.FlagSet) {
	c.Relay.Server.WithFlags(fs)
	c.Relay.Monitoring.WithFlags(fs)
	fs.BoolVar(&c.Relay.Debug, "debug", c.Relay.Debug, "Verbose logs")
	fs.BoolVar(&c.Relay.LogJson, "log.json", c.Relay.LogJson, "Log as JSON")
	fs.StringVar(&c.Relay.Origin, "origin", c.Relay.Origin, "Allowed origin of browser connections")
	fs.BoolVar(&c.Relay.Reload, "reload", c.Relay.Reload, "Reload ICE servers on config file changes")
}

// Reload reads the file again with the same rules as Load except the flags.
func (c *RelayConfig) Reload() (RelayConfig, error) {
	var conf RelayConfig
	if err := LoadConfig(&conf, c.file); err != nil {
		return conf, err
	}
	conf.file = c.file
	conf.fixValues()
	return conf, nil
}

func (c *RelayConfig) fixValues() {
	if len(c.Webrtc.IceServers) == 0 {
		c.Webrtc.IceServers = []webrtc.ICEServer{{URLs: []string{DefaultStun}}}
	}
	if c.Relay.Socket.SendQueue <= 0 {
		c.Relay.Socket.SendQueue = 1
	}
}
