package config

import "github.com/taskpilot-ai/taskpilot/pkg/observer"

// Config is the umbrella configuration object returned by Initialize and
// used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Backend  *BackendConfig
	Loop     *LoopConfig
	Dual     *DualConfig
	Journal  *JournalConfig
	Server   *ServerConfig
	Observer *observer.Config
}

// Stats contains a summary of resolved configuration for startup logging.
type Stats struct {
	Driver             BackendDriver
	JournalDir         string
	Addr               string
	ObserverMaxConns   int
	DualCycles         int
	PublishingVerdicts bool
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	return Stats{
		Driver:             c.Backend.Driver,
		JournalDir:         c.Journal.Dir,
		Addr:               c.Server.Addr,
		ObserverMaxConns:   c.Observer.MaxConnections,
		DualCycles:         c.Dual.MaxCycles,
		PublishingVerdicts: c.Loop.PublishVerdicts,
	}
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}
