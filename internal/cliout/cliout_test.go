package cliout

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestPlainLabelStripsColorCodes(t *testing.T) {
	c := color.New(color.FgYellow)
	c.EnableColor() // force ANSI codes even when the test runner isn't a tty
	colored := c.Sprint("mst_ledger")
	assert.NotEqual(t, "mst_ledger", colored, "fixture must actually contain escape codes")
	assert.Equal(t, "mst_ledger", PlainLabel(colored))
}

func TestProgressLineFormat(t *testing.T) {
	line := ProgressLine("mst_ledger", 120, 2, 9)
	assert.Equal(t, "[2/9] mst_ledger (120 rows)", line)
}

func TestDisableOutputSilencesFprintln(t *testing.T) {
	DisableOutput = true
	defer func() { DisableOutput = false }()

	var buf bytes.Buffer
	Fprintln(&buf, "should not appear")
	assert.Empty(t, buf.String())
}

func TestFprintlnWritesWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	Fprintln(&buf, "hello")
	assert.Contains(t, buf.String(), "hello")
}
