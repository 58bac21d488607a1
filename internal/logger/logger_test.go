package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredHelpersEmitAttrs(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	SetLevel("info")

	Infow("order accepted", "id", "abc", "attempts", 2)
	out := buf.String()
	assert.Contains(t, out, "order accepted")
	assert.Contains(t, out, "id=abc")
	assert.Contains(t, out, "attempts=2")

	buf.Reset()
	Warnw("buffer full", "subscriber", 7)
	assert.Contains(t, buf.String(), "subscriber=7")
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	SetLevel("info")
	Debugf("hidden %d", 1)
	assert.Empty(t, buf.String())

	SetLevel("debug")
	Debugf("visible %d", 2)
	assert.Contains(t, buf.String(), "visible 2")
	SetLevel("info")
}
