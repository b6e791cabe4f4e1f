package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRootCmdRegistersAllVerbs(t *testing.T) {
	root := NewRootCmd()
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "manifest", "status", "monitor", "retry"} {
		assert.True(t, names[want], "expected %q command to be registered", want)
	}
}

func TestDefaultConfigPathFallsBackWhenEnvUnset(t *testing.T) {
	t.Setenv("SNBB_SCHEDULER_CONFIG", "")
	assert.Equal(t, "scheduler.yaml", defaultConfigPath())
}

func TestDefaultConfigPathUsesEnvWhenSet(t *testing.T) {
	t.Setenv("SNBB_SCHEDULER_CONFIG", "/etc/snbb/scheduler.yaml")
	assert.Equal(t, "/etc/snbb/scheduler.yaml", defaultConfigPath())
}
