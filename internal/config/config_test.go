package config

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoArgs(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opt, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 60, opt.TargetMs)
	assert.Equal(t, 120, opt.MaxQueueMs)
	assert.Equal(t, 4992, opt.DiscoveryPort)
	assert.Contains(t, opt.StunURLs, "stun:stun.l.google.com:19302")
}

func TestLoadHonorsEnvironmentOverride(t *testing.T) {
	t.Setenv("FLEX_DISCOVERY_PORT", "5000")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opt, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 5000, opt.DiscoveryPort)
}

func TestLoadRejectsMaxQueueBelowTarget(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	old := os.Args
	os.Args = []string{"flexcore", "--jitter-target-ms=200", "--jitter-max-queue-ms=50"}
	defer func() { os.Args = old }()

	_, err := Load(fs)
	assert.Error(t, err)
}

func TestDefaultsCommandTimeoutAndReconnectBackoff(t *testing.T) {
	assert.Equal(t, 5000, Defaults().CommandTimeout)
	assert.Equal(t, 5000, Defaults().ReconnectMaxBackoff)
}
