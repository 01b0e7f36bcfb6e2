package imclog

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlogLoggerWritesThroughToHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	l.Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestNewSlogLoggerDefaultsWhenNil(t *testing.T) {
	l := NewSlogLogger(nil)
	assert.NotNil(t, l)
	l.Debug("no panic expected")
}

func TestNoopLoggerDiscardsEverything(t *testing.T) {
	Noop.Info("x")
	Noop.Error("x")
	Noop.Warn("x")
	Noop.Debug("x")
}
