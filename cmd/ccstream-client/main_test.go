package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyberinferno/go-ccstream/config"
)

func TestRootCmd_requiresHost(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--port", "2048"})

	assert.ErrorIs(t, cmd.Execute(), config.ErrInvalid)
}

func TestRootCmd_rejectsExtraArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--host", "localhost", "a", "b"})

	assert.Error(t, cmd.Execute())
}

func TestRootCmd_missingHeaderFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--host", "localhost", "--password", "pw", "--header", t.TempDir() + "/nope.bin", "--log-level", "disabled"})

	assert.ErrorContains(t, cmd.Execute(), "read header")
}
