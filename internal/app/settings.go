package app

import (
	"os"

	"netsync/internal/config"
	"netsync/internal/telemetry"
)

// LoadSettings reads path, or the defaults when path is empty, and applies
// the NETSYNC_* environment overrides.
func LoadSettings(path string, logger telemetry.Logger) (config.Config, error) {
	settings := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return settings, err
		}
		settings = loaded
	}
	return settings.ApplyEnv(os.LookupEnv, logger), nil
}
