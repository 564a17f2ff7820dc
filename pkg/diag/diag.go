// Package diag provides colorized console diagnostics for a
// connection's WorldChannel/HostWorldWriter state, for local debugging
// (cmd/netreplica-inspect). It adapts the teacher's pkg/cprint
// conditional, mutex-guarded colored println wrappers, retargeting
// create/update/delete colors to spawn/insert/remove/despawn colors.
package diag

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/embervault/netreplica/pkg/hostwriter"
	"github.com/embervault/netreplica/pkg/worldchannel"
)

var (
	mu sync.Mutex

	// DisableOutput silences every print function in this package,
	// mirroring cprint.DisableOutput.
	DisableOutput bool
)

func conditionalPrintln(fn func(...interface{}), a ...interface{}) {
	if DisableOutput {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fn(a...)
}

var (
	spawnPrintln   = color.New(color.FgGreen).PrintlnFunc()
	despawnPrintln = color.New(color.FgRed).PrintlnFunc()
	insertPrintln  = color.New(color.FgYellow).PrintlnFunc()
	removePrintln  = color.New(color.FgMagenta).PrintlnFunc()
	headerPrintln  = color.New(color.FgCyan, color.Bold).PrintlnFunc()

	// SpawnPrintln is fmt.Println with green as foreground color.
	SpawnPrintln = func(a ...interface{}) { conditionalPrintln(spawnPrintln, a...) }

	// DespawnPrintln is fmt.Println with red as foreground color.
	DespawnPrintln = func(a ...interface{}) { conditionalPrintln(despawnPrintln, a...) }

	// InsertPrintln is fmt.Println with yellow as foreground color.
	InsertPrintln = func(a ...interface{}) { conditionalPrintln(insertPrintln, a...) }

	// RemovePrintln is fmt.Println with magenta as foreground color.
	RemovePrintln = func(a ...interface{}) { conditionalPrintln(removePrintln, a...) }

	// HeaderPrintln is fmt.Println, bold cyan, used for section headers.
	HeaderPrintln = func(a ...interface{}) { conditionalPrintln(headerPrintln, a...) }
)

// DumpConnection writes a plain-text (uncolored) summary of a
// connection's in-flight WorldChannel/HostWorldWriter bookkeeping to
// w: the number of dirty component keys and each key, plus outstanding
// record counts a stuck connection would accumulate.
func DumpConnection(w io.Writer, label string, ch *worldchannel.Channel, writer *hostwriter.Writer) {
	if DisableOutput {
		return
	}
	mu.Lock()
	defer mu.Unlock()

	fmt.Fprintf(w, "connection %s\n", label)

	dirty := ch.DiffHandler().DirtyKeys()
	fmt.Fprintf(w, "  dirty component keys: %d\n", len(dirty))
	for _, k := range dirty {
		fmt.Fprintf(w, "    insert/update %v.%v\n", k.Entity, k.Component)
	}

	fmt.Fprintf(w, "  pending actions:        %d\n", writer.PendingActionCount())
	fmt.Fprintf(w, "  unacked update records: %d\n", writer.UnackedUpdateRecordCount())
	fmt.Fprintf(w, "  unacked action records: %d\n", writer.UnackedActionRecordCount())
	fmt.Fprintf(w, "  last update packet idx: %d\n", writer.LastUpdatePacketIndex())
}
