package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/config"
)

func TestApplyOverrides(t *testing.T) {
	cfg := config.Defaults()
	err := applyOverrides(&cfg, map[string]bool{"window": true, "drop": true}, 20, 0.1, 0, 0)
	require.NoError(t, err)
	require.Len(t, cfg.Strategy.Instances, 1)
	inst := cfg.Strategy.Instances[0]
	assert.Equal(t, 20.0, inst.Params.Window)
	require.NotNil(t, inst.Params.Drop)
	assert.Equal(t, 0.1, *inst.Params.Drop)
	assert.Equal(t, 0.05, inst.Params.TP, "unset flags keep the default")
}

func TestApplyOverridesNoFlags(t *testing.T) {
	cfg := config.Defaults()
	require.NoError(t, applyOverrides(&cfg, map[string]bool{}, 0, 0, 0, 0))
	assert.Empty(t, cfg.Strategy.Instances)
}

func TestApplyOverridesConflict(t *testing.T) {
	cfg := config.Defaults()
	cfg.Strategy.InstancesFile = "instances.yaml"
	require.Error(t, applyOverrides(&cfg, map[string]bool{"tp": true}, 0, 0, 0.1, 0))
}

func TestNewLoggerWritesFile(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogFile = t.TempDir() + "/bot.log"
	logger, closeFn := newLogger(&cfg)
	logger.Info("hello")
	closeFn()
	assert.FileExists(t, cfg.LogFile)
}
