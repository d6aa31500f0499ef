package harvester

import (
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/getsentry/sentry-go"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrMissingEnv is returned when a required environment variable is unset.
var ErrMissingEnv = errors.New("missing required environment variables")

// Config is read from the environment.
type Config struct {
	Workspace            string  `mapstructure:"workspace"`
	RecordSkipList       string  `mapstructure:"record_skip_list"`
	SentryDSN            string  `mapstructure:"sentry_dsn"`
	StatusUpdateInterval int     `mapstructure:"status_update_interval"`
	MaxAllowedErrors     int     `mapstructure:"max_allowed_errors"`
	RequestsPerSecond    float64 `mapstructure:"requests_per_second"`
}

// requiredEnv lists variables that must be set.
var requiredEnv = []string{"WORKSPACE"}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("status_update_interval", DefaultCheckpointInterval)
	v.SetDefault("max_allowed_errors", DefaultMaxAllowedErrors)
	v.SetDefault("requests_per_second", 0)
}

// newViper binds every option to its upper case environment variable.
func newViper() *viper.Viper {
	v := viper.New()
	for _, key := range []string{"workspace", "record_skip_list", "sentry_dsn",
		"status_update_interval", "max_allowed_errors", "requests_per_second"} {
		v.BindEnv(key, strings.ToUpper(key))
	}
	SetDefaults(v)
	return v
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	var c Config
	if err := newViper().Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &c, nil
}

// CheckRequiredEnv fails if a required environment variable is not set.
func CheckRequiredEnv() error {
	var missing []string
	for _, name := range requiredEnv {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrMissingEnv, "%s", strings.Join(missing, ", "))
	}
	return nil
}

// SkipList returns the configured record skip list.
func (c *Config) SkipList() SkipList {
	return ParseSkipList(c.RecordSkipList)
}

// ConfigureLogger returns the named harvester logger, at debug level with
// caller information if verbose, otherwise at info level.
func ConfigureLogger(verbose bool) (*zap.Logger, string) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		level,
	)
	var opts []zap.Option
	if verbose {
		opts = append(opts, zap.AddCaller())
	}
	log := zap.New(core, opts...).Named("harvester")
	return log, fmt.Sprintf("Logger 'harvester' configured with level=%s", level.CapitalString())
}

// ConfigureSentry initializes Sentry if a DSN is configured. A DSN of "none"
// counts as not configured.
func ConfigureSentry(c *Config) (bool, string, error) {
	dsn := c.SentryDSN
	if dsn == "" || strings.EqualFold(dsn, "none") {
		return false, "No Sentry DSN found, exceptions will not be sent to Sentry", nil
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: c.Workspace}); err != nil {
		return false, "", errors.Wrap(err, "sentry init")
	}
	return true, fmt.Sprintf("Sentry DSN found, exceptions will be sent to Sentry with env=%s", c.Workspace), nil
}
