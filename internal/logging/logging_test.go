package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_DefaultDirective(t *testing.T) {
	d := Parse("rockslide=info")
	assert.Equal(t, slog.LevelInfo, d.Default)
	assert.Empty(t, d.Overrides)
}

func TestParse_SubsystemOverride(t *testing.T) {
	d := Parse("registry=debug,rockslide=warn")
	assert.Equal(t, slog.LevelWarn, d.Default)
	assert.Equal(t, slog.LevelDebug, d.LevelFor(Registry))
	assert.Equal(t, slog.LevelWarn, d.LevelFor(Proxy), "an unnamed subsystem falls back to the default")
}

func TestParse_EmptyDirectiveDefaultsToInfo(t *testing.T) {
	d := Parse("")
	assert.Equal(t, slog.LevelInfo, d.Default)
}

func TestParse_UnqualifiedLevelSetsDefault(t *testing.T) {
	d := Parse("debug")
	assert.Equal(t, slog.LevelDebug, d.Default)
}
