package container

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	DefaultHost            = "localhost"
	DefaultScanInterval    = 500 * time.Millisecond
	DefaultShutdownTimeout = 5 * time.Second
)

// Config holds the server's listen address and deployment directories.
// Port 0 requests an ephemeral port. AppBase defaults to BaseDir.
type Config struct {
	Host            string
	Port            int
	BaseDir         string
	AppBase         string
	AutoDeploy      bool
	DeployOnStartup bool
	ScanInterval    time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.AppBase == "" {
		c.AppBase = c.BaseDir
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.BaseDir == "" {
		return fmt.Errorf("%w: base directory is required", ErrInvalidConfig)
	}
	return nil
}

func (c Config) address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
