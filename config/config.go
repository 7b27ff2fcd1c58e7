package config

import (
	"github.com/mailhoard/mailhoard/internal/logger"
)

type AppConfig struct {
	WorkDir       string `env:"MAILHOARD_ROOT"`
	DashboardPort string `env:"MAILHOARD_DASHBOARD_PORT" envDefault:"12280"`
	PushMaxSize   int64  `env:"MAILHOARD_PUSH_MAX_SIZE" envDefault:"26214400"`
	PushDelayMs   int    `env:"MAILHOARD_PUSH_DELAY_MS" envDefault:"0"`
	MaxErrors     int    `env:"MAILHOARD_MAX_ERRORS" envDefault:"10"`
	CacheTTLMin   int    `env:"MAILHOARD_UID_CACHE_TTL_MIN" envDefault:"60"`
	Checkpoint    int    `env:"MAILHOARD_CHECKPOINT" envDefault:"25"`
	WatchSchedule string `env:"MAILHOARD_WATCH_SCHEDULE" envDefault:"@every 30m"`
	Logger        *logger.Config
}
