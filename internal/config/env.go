package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds process-level settings read from the environment.
type Env struct {
	Debug         bool   `env:"STUDYBEATS_DEBUG"`
	LogFile       string `env:"STUDYBEATS_LOG_FILE"`
	ConfigHome    string `env:"STUDYBEATS_CONFIG_HOME"`
	XDGConfigHome string `env:"XDG_CONFIG_HOME"`
}

// ParseEnv reads Env from the process environment.
func ParseEnv() (Env, error) {
	e, err := env.ParseAs[Env]()
	if err != nil {
		return e, fmt.Errorf("error parsing environment: %w", err)
	}
	e.LogFile = ExpandPath(e.LogFile)
	return e, nil
}
