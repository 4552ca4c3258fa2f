package config

import "time"

const (
	appName = "anvil"

	defaultPipeName       = "anvil-"
	defaultGCDelaySeconds = 30
	defaultCompiler       = "cc"
	defaultLogFormat      = "auto"
	defaultLogLevel       = "info"
	defaultRetentionDays  = 14

	// DefaultKeepAlive applies when keep_alive is unset or unusable.
	DefaultKeepAlive = 5 * time.Minute
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			PipeName:       defaultPipeName,
			GCDelaySeconds: defaultGCDelaySeconds,
		},
		Compiler: Compiler{
			Command: defaultCompiler,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultRetentionDays,
		},
	}
}
