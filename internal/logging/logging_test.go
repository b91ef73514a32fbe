package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	cases := []struct {
		level     string
		verbosity int
		want      logrus.Level
	}{
		{"", 0, logrus.WarnLevel},
		{"", 1, logrus.InfoLevel},
		{"", 2, logrus.DebugLevel},
		{"", 3, logrus.DebugLevel},
		{"error", 2, logrus.ErrorLevel},
	}
	for _, tc := range cases {
		got, err := LevelFor(tc.level, tc.verbosity)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "level=%q verbosity=%d", tc.level, tc.verbosity)
	}

	_, err := LevelFor("loud", 1)
	assert.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "s3sync.log")

	logger, closer, err := New(Config{Verbosity: 1, File: path}, &out)
	require.NoError(t, err)
	logger.WithField("key", "a.txt").Info("Uploading a.txt...")
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	assert.Contains(t, out.String(), "Uploading a.txt...")
	assert.NotContains(t, out.String(), "hidden")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "key=a.txt")
}
