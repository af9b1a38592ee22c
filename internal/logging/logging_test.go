package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseFilter(t *testing.T) {
	cases := []struct {
		filter   string
		expLevel zapcore.Level
		expOn    bool
		expErr   bool
	}{
		{filter: "", expLevel: zapcore.InfoLevel, expOn: true},
		{filter: "debug", expLevel: zapcore.DebugLevel, expOn: true},
		{filter: "TRACE", expLevel: zapcore.DebugLevel, expOn: true},
		{filter: "warn,hana=debug", expLevel: zapcore.DebugLevel, expOn: true},
		{filter: "hana=error,debug", expLevel: zapcore.ErrorLevel, expOn: true},
		{filter: "error,tokio=trace", expLevel: zapcore.ErrorLevel, expOn: true},
		{filter: "off", expLevel: zapcore.InfoLevel, expOn: false},
		{filter: "debug,hana=off", expLevel: zapcore.DebugLevel, expOn: false},
		{filter: "verbose", expErr: true},
	}
	for _, c := range cases {
		t.Run(c.filter, func(t *testing.T) {
			level, on, err := ParseFilter(c.filter)
			if c.expErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expLevel, level)
			assert.Equal(t, c.expOn, on)
		})
	}
}

func TestNew(t *testing.T) {
	log, err := New("debug")
	require.NoError(t, err)
	assert.True(t, log.Desugar().Core().Enabled(zapcore.DebugLevel))

	log, err = New("off")
	require.NoError(t, err)
	assert.False(t, log.Desugar().Core().Enabled(zapcore.ErrorLevel))

	_, err = New("loud")
	require.Error(t, err)
}
