package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelGate(t *testing.T) {
	var out bytes.Buffer
	logger := NewStandardLogger(WithOutput(&out), WithLevel(LevelWarn))

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("visible warn")
	logger.Error("visible error")

	s := out.String()
	assert.NotContains(t, s, "hidden")
	assert.Contains(t, s, "visible warn")
	assert.Contains(t, s, "visible error")
}

func TestFormattingAndFields(t *testing.T) {
	var out bytes.Buffer
	logger := NewStandardLogger(WithOutput(&out))

	logger.WithField("sstable", "tbl-1").Info("appended %d partitions", 3)

	s := out.String()
	assert.Contains(t, s, "appended 3 partitions")
	assert.Contains(t, s, "[sstable=tbl-1]")
	assert.Contains(t, s, "INFO")
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var out bytes.Buffer
	parent := NewStandardLogger(WithOutput(&out))
	parent.WithField("a", 1).WithField("b", 2).Info("child")
	parent.Info("parent")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "a=1 b=2")
	assert.NotContains(t, lines[1], "a=1")
}

func TestSetLevel(t *testing.T) {
	logger := NewStandardLogger()
	logger.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, logger.GetLevel())
	assert.Equal(t, "DEBUG", LevelDebug.String())
}
