package bootstrap

import (
	"swapsmith/internal/logging"
)

// InitLogger builds the process logger from configuration and installs
// it as the global instance.
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	level, _ := logging.ParseLevel(cfg.System.LogLevel)
	logger, err := logging.NewZapLogger(level)
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)
	return logger, nil
}
