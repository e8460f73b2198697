package harness

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/adeilh/go-rakh-harness/container"
	"github.com/spf13/viper"
)

// Config controls the shared server. Zero values fall back to DefaultConfig
// when loaded through LoadConfig.
type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	BaseDir         string        `mapstructure:"baseDir"`
	AutoDeploy      bool          `mapstructure:"autoDeploy"`
	DeployOnStartup bool          `mapstructure:"deployOnStartup"`
	ScanInterval    time.Duration `mapstructure:"scanInterval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	KeepWorkDir     bool          `mapstructure:"keepWorkDir"`
	LogLevel        string        `mapstructure:"logLevel"`
}

// DefaultConfig asks for an ephemeral port on localhost under the system
// temp directory, with deploy-on-startup and auto-deploy enabled.
func DefaultConfig() Config {
	return Config{
		Host:            container.DefaultHost,
		Port:            0,
		BaseDir:         os.TempDir(),
		AutoDeploy:      true,
		DeployOnStartup: true,
		ScanInterval:    container.DefaultScanInterval,
		ShutdownTimeout: container.DefaultShutdownTimeout,
		LogLevel:        "info",
	}
}

// NewViper returns a Viper looking for a config file called name in paths,
// or in the working directory when no path is given.
func NewViper(name string, paths ...string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	return v
}

// LoadConfig reads v's config file, if one exists, over DefaultConfig.
func LoadConfig(v *viper.Viper) (Config, error) {
	d := DefaultConfig()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("baseDir", d.BaseDir)
	v.SetDefault("autoDeploy", d.AutoDeploy)
	v.SetDefault("deployOnStartup", d.DeployOnStartup)
	v.SetDefault("scanInterval", d.ScanInterval)
	v.SetDefault("shutdownTimeout", d.ShutdownTimeout)
	v.SetDefault("keepWorkDir", d.KeepWorkDir)
	v.SetDefault("logLevel", d.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("%w: base directory is required", ErrConfiguration)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrConfiguration, c.Port)
	}
	return nil
}
