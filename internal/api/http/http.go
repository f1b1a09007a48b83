package http

import "time"

type Config struct {
	Port        uint          `mapstructure:"port"`
	AdminAPIKey string        `mapstructure:"admin_api_key"`
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
}
