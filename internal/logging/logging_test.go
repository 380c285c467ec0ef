package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromDefaults(t *testing.T) {
	log, err := New(NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, log)
	log.Named("test").Info("hello")
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = "loud"
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = NewDefaultConfig()
	cfg.Encoding = "xml"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
