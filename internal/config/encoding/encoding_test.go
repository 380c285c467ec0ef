package encoding

import (
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationTOML(t *testing.T) {
	var cfg struct {
		Trading Duration `toml:"trading"`
	}
	_, err := toml.Decode(`trading = "4m"`, &cfg)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Minute, cfg.Trading.Get())

	out, err := cfg.Trading.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "4m0s", string(out))

	_, err = toml.Decode(`trading = "soon"`, &cfg)
	assert.Error(t, err)
}
