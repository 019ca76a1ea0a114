package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateFillsDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{}
	require.NoError(test, cfg.Validate())
	assert.Equal(test, defaultListenAddr, cfg.ListenAddr)
	assert.Equal(test, []string{defaultAllowedOrigin}, cfg.AllowedOrigins)
	assert.Equal(test, defaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(test, defaultShutdownTimeout, cfg.ShutdownTimeout)
}

func TestConfigValidateRejects(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "negative request timeout", cfg: Config{RequestTimeout: -time.Second}},
		{name: "negative shutdown timeout", cfg: Config{ShutdownTimeout: -time.Second}},
		{name: "bare host origin", cfg: Config{AllowedOrigins: []string{"localhost:5173"}}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			cfg := testCase.cfg
			assert.Error(test, cfg.Validate())
		})
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	test.Parallel()
	assert.Equal(test, []string{}, ParseAllowedOrigins("  "))
	assert.Equal(test,
		[]string{"http://localhost:5173", "https://ops.example.com"},
		ParseAllowedOrigins(" http://localhost:5173, ,https://ops.example.com "))
}
