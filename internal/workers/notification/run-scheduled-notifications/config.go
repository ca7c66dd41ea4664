package runschedulednotifications

import (
	"time"

	"enrollment-notifier/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig(wc config.WorkerConfig) *Config {
	timeout := config.GetDuration(wc.Timeout)
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Config{Timeout: timeout}
}
