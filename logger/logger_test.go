package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"info":     zerolog.InfoLevel,
		"DEBUG":    zerolog.DebugLevel,
		" warn ":   zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"off":      zerolog.Disabled,
	}

	for raw, want := range cases {
		got, err := ParseLevel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestZerologLogger_fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf), "ccstream-test", zerolog.DebugLevel)

	l.With(Field{Key: "session", Value: 7}).Info("peer connected", Field{Key: "peer", Value: "127.0.0.1:5000"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ccstream-test", entry["service"])
	assert.Equal(t, "peer connected", entry["message"])
	assert.Equal(t, "127.0.0.1:5000", entry["peer"])
	assert.Equal(t, float64(7), entry["session"])
	assert.Equal(t, "info", entry["level"])
}

func TestZerologLogger_levelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf), "svc", zerolog.WarnLevel)

	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew(t *testing.T) {
	t.Run("unknown level is rejected", func(t *testing.T) {
		_, err := New(Config{Level: "chatty"}, "svc")
		assert.Error(t, err)
	})

	t.Run("writes to daily file in dir", func(t *testing.T) {
		dir := t.TempDir()
		l, err := New(Config{Level: "info", Dir: dir}, "ccstream-server")
		require.NoError(t, err)

		l.Info("listening")
		require.NoError(t, l.Close())
		require.NoError(t, l.Close())

		name := dir + "/ccstream-server_" + time.Now().Format(time.DateOnly) + ".log"
		data, err := os.ReadFile(name)
		require.NoError(t, err)
		assert.Contains(t, string(data), "listening")
	})
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Error("nothing")
	assert.NotNil(t, l.With(Field{Key: "k", Value: "v"}))
	assert.NoError(t, l.Close())
}

func TestDailyFileWriter_rotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDailyFileWriter("svc", dir)
	require.NoError(t, err)
	defer w.Close()

	day := time.Date(2030, 1, 2, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day }

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	assert.Equal(t, dir+"/svc_2030-01-02.log", w.CurrentLogFile())

	day = day.Add(2 * time.Minute)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	assert.Equal(t, dir+"/svc_2030-01-03.log", w.CurrentLogFile())

	require.NoError(t, w.Close())
	_, err = w.Write([]byte("late\n"))
	assert.ErrorIs(t, err, errWriterClosed)
	assert.Empty(t, w.CurrentLogFile())
}
