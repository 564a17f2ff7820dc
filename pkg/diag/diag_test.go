package diag

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/ecs"
	"github.com/embervault/netreplica/pkg/hostwriter"
	"github.com/embervault/netreplica/pkg/worldchannel"
)

func TestDumpConnectionReportsCounts(t *testing.T) {
	reg := component.NewRegistry()
	ch, err := worldchannel.New(65535, reg)
	require.NoError(t, err)
	writer := hostwriter.New(1200, nil)

	e := ecs.Entity{ID: 1, Gen: 1}
	require.NoError(t, ch.HostSpawnEntity(e))

	var buf bytes.Buffer
	DumpConnection(&buf, "conn-1", ch, writer)

	out := buf.String()
	assert.Contains(t, out, "connection conn-1")
	assert.Contains(t, out, "pending actions:        0")
	assert.Contains(t, out, "unacked update records: 0")
}

func TestDumpConnectionIsSilencedByDisableOutput(t *testing.T) {
	reg := component.NewRegistry()
	ch, err := worldchannel.New(65535, reg)
	require.NoError(t, err)
	writer := hostwriter.New(1200, nil)

	DisableOutput = true
	defer func() { DisableOutput = false }()

	var buf bytes.Buffer
	DumpConnection(&buf, "conn-1", ch, writer)

	assert.Empty(t, buf.String())
}

func TestPrintFunctionsRespectDisableOutput(t *testing.T) {
	backup := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = backup }()

	var out bytes.Buffer
	backupOutput := color.Output
	color.Output = &out
	defer func() { color.Output = backupOutput }()

	DisableOutput = true
	SpawnPrintln("should not appear")
	DisableOutput = false
	SpawnPrintln("should appear")

	assert.Equal(t, "should appear\n", out.String())
}
