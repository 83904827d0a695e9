package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsAreRendered(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	l.Info("retrieved", logrus.Fields{"candidates": 3})

	assert.Contains(t, buf.String(), "msg=retrieved")
	assert.Contains(t, buf.String(), "candidates=3")
}

func TestQuietFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.log")
	l, err := New(context.Background(), Options{Level: "debug", JSON: true, File: path, Quiet: true})
	require.NoError(t, err)

	l.Debug("hello", logrus.Fields{"k": "v"})
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	l, err := New(context.Background(), Options{Level: "loud", Quiet: true})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, l.logger.GetLevel())
}
