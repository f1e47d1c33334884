package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-ccstream/attemptstore"
	"github.com/cyberinferno/go-ccstream/config"
)

func TestRootCmd_rejectsInvalidConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--port", "http"})

	assert.ErrorIs(t, cmd.Execute(), config.ErrInvalid)
}

func TestRootCmd_rejectsArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"extra"})

	assert.Error(t, cmd.Execute())
}

func TestNewAttemptStore(t *testing.T) {
	cfg := config.DefaultServerConfig()
	store, release := newAttemptStore(cfg)
	assert.IsType(t, &attemptstore.MemoryStore{}, store)
	assert.NoError(t, release())

	cfg.AttemptStore.Backend = config.BackendRedis
	store, release = newAttemptStore(cfg)
	assert.IsType(t, &attemptstore.RedisStore{}, store)
	assert.NoError(t, release())
}

func TestOpenOutput(t *testing.T) {
	w, release, err := openOutput("")
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.NoError(t, release())

	w, _, err = openOutput("-")
	require.NoError(t, err)
	assert.Equal(t, os.Stdout, w)

	path := filepath.Join(t.TempDir(), "relay.bin")
	w, release, err = openOutput(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("cc"))
	require.NoError(t, err)
	require.NoError(t, release())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cc", string(data))

	_, _, err = openOutput(filepath.Join(t.TempDir(), "missing", "relay.bin"))
	assert.Error(t, err)
}
