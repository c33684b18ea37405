package cfg

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// TokenSecret signs capability tokens. The API and the bridge must be
	// configured with the same value or every bridge connection is rejected.
	TokenSecret string `env:"SANDBOX_TOKEN_SECRET,required,notEmpty"`

	TokenTTL time.Duration `env:"SANDBOX_TOKEN_TTL" envDefault:"5m"`

	APIPort    uint16 `env:"SANDBOX_API_PORT" envDefault:"4000"`
	BridgePort uint16 `env:"SANDBOX_BRIDGE_PORT" envDefault:"4001"`

	// AccessTokens maps bearer access tokens to user ids, e.g.
	// "tok-abc:user-1,tok-def:user-2". Session storage lives in the web app;
	// this service only needs enough to resolve a caller.
	AccessTokens map[string]string `env:"SANDBOX_ACCESS_TOKENS"`

	SandboxIdleTTL       time.Duration `env:"SANDBOX_IDLE_TTL" envDefault:"30m"`
	SandboxEvictInterval time.Duration `env:"SANDBOX_EVICT_INTERVAL" envDefault:"1m"`

	Debug bool `env:"SANDBOX_DEBUG"`
}

func Parse() (Config, error) {
	var config Config
	err := env.Parse(&config)
	return config, err
}
