package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "warn", Format: "json", Out: &buf})
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())

	l.Info("hidden")
	l.WithField("op", "assignment.create").Warn("shown")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "assignment.create", line["op"])
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	l := New(Options{Level: "chatty"})
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestFromContext(t *testing.T) {
	fallback := Discard().WithField("scope", "fallback")
	assert.Same(t, fallback, FromContext(context.Background(), fallback))

	scoped := Discard().WithField("request_id", "r-1")
	ctx := WithContext(context.Background(), scoped)
	assert.Same(t, scoped, FromContext(ctx, fallback))
	assert.NotNil(t, FromContext(context.Background(), nil))
}
