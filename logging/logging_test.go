package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestStringToLevelRecognizesEveryLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zerolog.Level{
		"fatal":   zerolog.FatalLevel,
		"ERROR":   zerolog.ErrorLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"Info":    zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		"trace":   zerolog.TraceLevel,
	}
	for input, want := range cases {
		assert.Equal(t, want, StringToLevel(input), "input %q", input)
	}
}

func TestStringToLevelDefaultsToInfo(t *testing.T) {
	t.Parallel()
	assert.Equal(t, zerolog.InfoLevel, StringToLevel("nonsense"))
}

func TestInitWritesJSONToNonTerminalWriter(t *testing.T) {
	var buf bytes.Buffer
	Init(zerolog.InfoLevel, &buf)
	WithVault("alpha").Info().Msg("hello")
	assert.Contains(t, buf.String(), `"vault":"alpha"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}
