package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LAPIO_SOURCE", "")
	t.Setenv("LAPIO_STATUS_ADDR", "")
	t.Setenv("INFLUX_URL", "")

	c, err := Load([]string{"http://localhost:8000/api/readings/"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/api/readings/", c.Dest)
	assert.False(t, c.Debug)
	assert.Equal(t, 10*time.Second, c.Timeout)
	assert.Equal(t, SourceBLE, c.Source)
	assert.Equal(t, IsolationProcess, c.Isolation)
	assert.Empty(t, c.StatusAddress)
	assert.False(t, c.Influx.Enabled())
	assert.False(t, c.Producer)
}

func TestLoadFlags(t *testing.T) {
	c, err := Load([]string{
		"--debug", "--timeout", "3s", "--source", "simulated", "--simulated-tags", "5",
		"--isolation", "goroutine", "--status-addr", ":8080", "https://example.com/in",
	}, io.Discard)
	require.NoError(t, err)
	assert.True(t, c.Debug)
	assert.Equal(t, 3*time.Second, c.Timeout)
	assert.Equal(t, SourceSimulated, c.Source)
	assert.Equal(t, 5, c.SimulatedTags)
	assert.Equal(t, IsolationGoroutine, c.Isolation)
	assert.Equal(t, ":8080", c.StatusAddress)
	assert.Equal(t, "https://example.com/in", c.Dest)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("LAPIO_SOURCE", "simulated")
	t.Setenv("LAPIO_STATUS_ADDR", "127.0.0.1:9000")
	t.Setenv("INFLUX_URL", "http://influx:8086")
	t.Setenv("INFLUX_ORG", "home")
	t.Setenv("INFLUX_BUCKET", "ruuvi")

	c, err := Load([]string{"http://sink/"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, SourceSimulated, c.Source)
	assert.Equal(t, "127.0.0.1:9000", c.StatusAddress)
	assert.True(t, c.Influx.Enabled())
	assert.Equal(t, "home", c.Influx.Org)
	assert.Equal(t, "ruuvi", c.Influx.Bucket)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing dest", nil},
		{"two dests", []string{"http://a/", "http://b/"}},
		{"no scheme", []string{"localhost:8000/x"}},
		{"ftp", []string{"ftp://host/x"}},
		{"no host", []string{"http:///x"}},
		{"bad source", []string{"--source", "usb", "http://a/"}},
		{"bad isolation", []string{"--isolation", "thread", "http://a/"}},
		{"zero timeout", []string{"--timeout", "0s", "http://a/"}},
		{"no tags", []string{"--simulated-tags", "0", "http://a/"}},
		{"unknown flag", []string{"--verbose", "http://a/"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LAPIO_SOURCE", "")
			_, err := Load(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestLoadHelp(t *testing.T) {
	var out bytes.Buffer
	_, err := Load([]string{"--help"}, &out)
	assert.True(t, errors.Is(err, ErrHelp))
	assert.Contains(t, out.String(), "dest")
	assert.NotContains(t, out.String(), "--producer")
}

func TestProducerArgsRoundTrip(t *testing.T) {
	parent, err := Load([]string{"--debug", "--source", "simulated", "--simulated-tags", "4", "http://a/"}, io.Discard)
	require.NoError(t, err)

	child, err := Load(parent.ProducerArgs(), io.Discard)
	require.NoError(t, err)
	assert.True(t, child.Producer)
	assert.True(t, child.Debug)
	assert.Equal(t, SourceSimulated, child.Source)
	assert.Equal(t, 4, child.SimulatedTags)
	assert.Empty(t, child.Dest)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, LoadDotEnv())

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LAPIO_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("LAPIO_TEST_DOTENV", "")
	os.Unsetenv("LAPIO_TEST_DOTENV")
	require.NoError(t, LoadDotEnv())
	assert.Equal(t, "from-file", os.Getenv("LAPIO_TEST_DOTENV"))
}
