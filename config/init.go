package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/mailhoard/mailhoard/internal/logger"
)

type Config struct {
	AppConfig *AppConfig
	Logger    *logger.Config
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig: &AppConfig{},
		Logger:    &logger.Config{},
	}

	if err := godotenv.Load(); err != nil {
		log.Print("Unable to load .env file")
	}

	if err := env.Parse(config); err != nil {
		return nil, err
	}
	config.AppConfig.Logger = config.Logger

	return config, nil
}
