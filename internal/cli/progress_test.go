package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrinterPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Success("migrated to version %d", 3)
	p.Error("boom")
	p.Warning("careful")
	p.Info("hello")

	assert.Equal(t, "✓ migrated to version 3\n✗ boom\n⚠ careful\nℹ hello\n", buf.String())
	assert.NotContains(t, buf.String(), "\033[")
}

func TestProgressBarCountsAndFinishes(t *testing.T) {
	var buf bytes.Buffer
	bar := NewPrinter(&buf).Progress(2, "seeding")

	bar.Increment()
	assert.Contains(t, buf.String(), "1/2")
	bar.Increment()
	bar.Increment()
	assert.NotContains(t, buf.String(), "3/2")

	bar.Finish()
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "2/2")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "< 1s", formatDuration(500*time.Millisecond))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h1m", formatDuration(61*time.Minute))
}
