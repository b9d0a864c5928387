package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Env is the process configuration read from the environment.
type Env struct {
	Addr            string `env:"SIMGATE_ADDR"                   envDefault:":3000"`
	APIToken        string `env:"SIMGATE_API_TOKEN"`
	RateLimitPerSec int    `env:"SIMGATE_API_RATE_LIMIT_PER_SEC" envDefault:"180"`
	MachinesPath    string `env:"SIMGATE_MACHINES"               envDefault:"configs/machines.yaml"`
	LogLevel        string `env:"SIMGATE_LOG_LEVEL"              envDefault:"info"`
	LogFormat       string `env:"SIMGATE_LOG_FORMAT"             envDefault:"text"`
}

// LoadEnv parses Env from the process environment. A blank token disables
// authentication and the rate limit is clamped to at least 1.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	e.APIToken = strings.TrimSpace(e.APIToken)
	if e.RateLimitPerSec < 1 {
		e.RateLimitPerSec = 1
	}
	return e, nil
}
