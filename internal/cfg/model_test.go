package cfg

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("token secret is required", func(t *testing.T) {
		removeEnv(t, "SANDBOX_TOKEN_SECRET")

		_, err := Parse()
		assert.ErrorContains(t, err, `required environment variable "SANDBOX_TOKEN_SECRET" is not set`)
	})

	t.Run("token secret cannot be empty", func(t *testing.T) {
		t.Setenv("SANDBOX_TOKEN_SECRET", "")

		_, err := Parse()
		assert.ErrorContains(t, err, `environment variable "SANDBOX_TOKEN_SECRET" should not be empty`)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("SANDBOX_TOKEN_SECRET", "test-secret")

		config, err := Parse()
		require.NoError(t, err)

		assert.Equal(t, 5*time.Minute, config.TokenTTL)
		assert.Equal(t, uint16(4000), config.APIPort)
		assert.Equal(t, uint16(4001), config.BridgePort)
		assert.Equal(t, 30*time.Minute, config.SandboxIdleTTL)
	})

	t.Run("access tokens map", func(t *testing.T) {
		t.Setenv("SANDBOX_TOKEN_SECRET", "test-secret")
		t.Setenv("SANDBOX_ACCESS_TOKENS", "tok-abc:user-1,tok-def:user-2")

		config, err := Parse()
		require.NoError(t, err)

		assert.Equal(t, "user-1", config.AccessTokens["tok-abc"])
		assert.Equal(t, "user-2", config.AccessTokens["tok-def"])
	})
}

// removeEnv was mostly copied from the implementation of t.Setenv
func removeEnv(t *testing.T, key string) {
	t.Helper()

	prevValue, ok := os.LookupEnv(key)

	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("cannot unset environment variable: %v", err)
	}

	if ok {
		t.Cleanup(func() {
			os.Setenv(key, prevValue)
		})
	} else {
		t.Cleanup(func() {
			os.Unsetenv(key)
		})
	}
}
