// Command netreplica-inspect drives a small synthetic connection
// through a handful of ticks and prints pkg/diag's colorized
// connection dump after each one, for local debugging of packing and
// reliability behavior without standing up a real transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/config"
	"github.com/embervault/netreplica/pkg/diag"
	"github.com/embervault/netreplica/pkg/ecs"
	"github.com/embervault/netreplica/pkg/hub"
)

// loggingTransport stands in for a real socket: it just reports the
// size of every packet it's handed.
type loggingTransport struct {
	label string
}

func (t *loggingTransport) Send(packetIndex int, payload []byte) error {
	fmt.Printf("[%s] sent packet %d (%d bytes)\n", t.label, packetIndex, len(payload))
	return nil
}

func main() {
	mtu := flag.Int("mtu", 512, "packet MTU in bytes")
	entities := flag.Int("entities", 3, "number of synthetic entities to spawn")
	ticks := flag.Int("ticks", 5, "number of ticks to run")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "netreplica-inspect: logger setup:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	reg := component.NewRegistry()
	world := ecs.NewMapWorld()

	cfg := config.Default()
	cfg.MTUBytes = *mtu

	h := hub.New(cfg, reg, world, 4, logger)

	conn, err := h.AddConnection("inspect-user", &loggingTransport{label: "inspect"})
	if err != nil {
		logger.Fatal("add connection", zap.Error(err))
	}

	for i := 0; i < *entities; i++ {
		e := ecs.Entity{ID: uint32(i + 1), Gen: 1}
		world.Spawn(e)
		if err := conn.Channel.HostSpawnEntity(e); err != nil {
			logger.Fatal("spawn entity", zap.Error(err))
		}
	}

	ctx := context.Background()
	for i := 0; i < *ticks; i++ {
		if err := h.TickAll(ctx, time.Now()); err != nil {
			logger.Fatal("tick", zap.Error(err))
		}
		diag.DumpConnection(os.Stdout, conn.ID.String(), conn.Channel, conn.Writer)
	}
}
