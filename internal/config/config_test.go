package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scalesocket/scalesocket/internal/cache"
	"github.com/scalesocket/scalesocket/internal/codec"
)

func TestParseMinimal(t *testing.T) {
	cfg, err := Parse([]string{"echo", "--", "hello"})
	require.NoError(t, err)
	require.Equal(t, "echo", cfg.Cmd)
	require.Equal(t, []string{"hello"}, cfg.Args)
	require.Equal(t, defaultAddr, cfg.Addr)
	require.Equal(t, defaultPassEnv, cfg.PassEnv)
}

func TestParseMissingCmdIsError(t *testing.T) {
	_, err := Parse([]string{"--oneshot"})
	require.Error(t, err)
}

func TestParseTCPDefaultsAttachDelay(t *testing.T) {
	cfg, err := Parse([]string{"--tcp", "echo"})
	require.NoError(t, err)
	require.Equal(t, uint16(9001), cfg.TCPStart)
	require.Equal(t, uint16(9999), cfg.TCPEnd)
	require.Equal(t, defaultAttachDelay, cfg.DelaySec)
}

func TestParseExplicitDelayOverridesTCPDefault(t *testing.T) {
	cfg, err := Parse([]string{"--tcp", "--delay", "3", "echo"})
	require.NoError(t, err)
	require.Equal(t, float64(3), cfg.DelaySec)
}

func TestParseFrameShortcutJSON(t *testing.T) {
	cfg, err := Parse([]string{"--json", "echo"})
	require.NoError(t, err)
	require.Equal(t, codec.FramingJSON, cfg.ClientFraming)
	require.Equal(t, codec.FramingJSON, cfg.ServerFraming)
	require.NotEmpty(t, cfg.JoinMsg)
	require.NotEmpty(t, cfg.LeaveMsg)
}

func TestParseFrameMutuallyExclusive(t *testing.T) {
	_, err := Parse([]string{"--frame=json", "--clientframe=json", "echo"})
	require.Error(t, err)
}

func TestParseGWSocketClientFramingRejected(t *testing.T) {
	_, err := Parse([]string{"--clientframe=gwsocket", "echo"})
	require.Error(t, err)
}

func TestParseCacheFlag(t *testing.T) {
	cfg, err := Parse([]string{"--cache=tagged:8", "echo"})
	require.NoError(t, err)
	require.True(t, cfg.CacheEnabled)
	require.Equal(t, 8, cfg.CacheSize)
	require.Equal(t, cache.PolicyTagged, cfg.CachePolicy)
}

func TestParseCacheDefaultPolicyAll(t *testing.T) {
	cfg, err := Parse([]string{"--cache=64", "echo"})
	require.NoError(t, err)
	require.Equal(t, cache.PolicyAll, cfg.CachePolicy)
	require.Equal(t, 64, cfg.CacheSize)
}

func TestParseCacheInvalidSizeIsError(t *testing.T) {
	_, err := Parse([]string{"--cache=3", "echo"})
	require.Error(t, err)
}

func TestParseCachePersistWithoutCacheIsError(t *testing.T) {
	_, err := Parse([]string{"--cachepersist", "echo"})
	require.Error(t, err)
}

func TestParsePassEnv(t *testing.T) {
	cfg, err := Parse([]string{"--passenv=PATH,HOME", "echo"})
	require.NoError(t, err)
	require.Equal(t, []string{"PATH", "HOME"}, cfg.PassEnv)
}

func TestParseVerbosityRepeatable(t *testing.T) {
	cfg, err := Parse([]string{"-vv", "echo"})
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Verbosity)
}
