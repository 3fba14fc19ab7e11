package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestConsoleLogger(t *testing.T) {
	logger := ConsoleLogger(logrus.DebugLevel)
	require.Equal(t, logrus.DebugLevel, logger.GetLevel())
	require.Equal(t, os.Stderr, logger.Out)
}

func TestFileLogger_CreatesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	f, logger, err := FileLogger(logrus.InfoLevel, path)
	require.NoError(t, err)
	defer f.Close()

	logger.Info("started")

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}
