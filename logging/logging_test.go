package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.InfoLevel, parseLevel(""))
	assert.Equal(t, zap.InfoLevel, parseLevel("bogus"))
	assert.Equal(t, zap.DebugLevel, parseLevel("V"))
	assert.Equal(t, zap.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zap.InfoLevel, parseLevel("INFO"))
	assert.Equal(t, zap.WarnLevel, parseLevel("W"))
	assert.Equal(t, zap.ErrorLevel, parseLevel("ERROR"))
	assert.Equal(t, zap.DPanicLevel, parseLevel("F"))
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("HERMETIC_LOG", "E")
	assert.Equal(t, zap.ErrorLevel, levelFor("anything"))

	t.Setenv("HERMETIC_LOG_ELFMOD", "D")
	assert.Equal(t, zap.DebugLevel, levelFor("elfmod"))
	assert.Equal(t, zap.ErrorLevel, levelFor("hermetic"))
}
