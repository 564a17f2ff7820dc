package tickbuffer

import (
	"fmt"

	"github.com/embervault/netreplica/pkg/wire"
)

// Codec knows how to size and (de)serialize one command payload. It is
// the tick-buffer analog of component.Codec, kept separate since
// commands are opaque, schema-defined blobs rather than ECS component
// state (spec.md §2 row 10: "command-bytes (opaque, schema-defined)").
type Codec[C any] interface {
	BitLength(c C) int
	Write(w *wire.BitWriter, c C) error
	Read(r *wire.BitReader) (C, error)
}

// Entry is one decoded (TickID, command) pair.
type Entry[C any] struct {
	Tick    TickID
	Command C
}

// Buffer holds the last `window` ticks' worth of locally-generated
// commands and re-offers every still-held tick on each flush, the way
// naia's channel_tick_buffer resends unacknowledged input rather than
// waiting for a retransmit signal. Ticks older than the window are
// dropped as they're superseded by newer Record calls, not by any
// acknowledgement from the peer — this channel has no ack path,
// mirroring naia's fire-and-forget tick command delivery.
type Buffer[C any] struct {
	window    int
	codec     Codec[C]
	commands  map[TickID]C
	latest    TickID
	hasLatest bool
}

// New creates a Buffer retaining at most `window` distinct ticks'
// commands at a time.
func New[C any](window int, codec Codec[C]) *Buffer[C] {
	return &Buffer[C]{
		window:   window,
		codec:    codec,
		commands: make(map[TickID]C),
	}
}

// Record stores cmd as the command for tick, evicting any buffered
// tick that has fallen outside the trailing window.
func (b *Buffer[C]) Record(tick TickID, cmd C) {
	b.commands[tick] = cmd
	if !b.hasLatest || Less(b.latest, tick) {
		b.latest = tick
		b.hasLatest = true
	}
	if b.window <= 0 {
		return
	}
	for t := range b.commands {
		if int32(int16(b.latest-t)) >= int32(b.window) {
			delete(b.commands, t)
		}
	}
}

// Forget drops tick from the buffer immediately, for callers on a
// transport that does deliver an acknowledgement and wants to stop
// re-offering a tick early.
func (b *Buffer[C]) Forget(tick TickID) {
	delete(b.commands, tick)
}

// Len reports how many ticks are currently buffered.
func (b *Buffer[C]) Len() int { return len(b.commands) }

// WriteSection packs every currently-buffered tick, oldest first, into
// bw using spec.md §2 row 10's wire shape: a 1-bit continuation flag,
// TickID (absolute 16 bits for the first entry, zigzag-delta varint
// thereafter), then the command's own bytes. It stops at the first
// entry that would overflow bw's remaining budget and returns the
// ticks actually written, so callers can tell which ticks still need
// offering on the next flush.
func (b *Buffer[C]) WriteSection(bw *wire.BitWriter) ([]TickID, error) {
	ticks := b.sortedTicks()

	var written []TickID
	var lastTick TickID
	haveLast := false

	for _, tick := range ticks {
		cmd := b.commands[tick]
		payloadBits := b.codec.BitLength(cmd)

		idBits := 1
		if !haveLast {
			idBits += 16
		} else {
			idBits += wire.VarIntBitLen(Delta(lastTick, tick))
		}
		needed := idBits + payloadBits
		if needed+1 > bw.RemainingBits() { // +1 reserves the section terminator
			break
		}

		if err := bw.WriteBit(true); err != nil {
			return written, err
		}
		if !haveLast {
			if err := bw.WriteBits(uint64(tick), 16); err != nil {
				return written, err
			}
		} else {
			if err := bw.WriteVarInt(Delta(lastTick, tick)); err != nil {
				return written, err
			}
		}
		if err := b.codec.Write(bw, cmd); err != nil {
			return written, err
		}

		written = append(written, tick)
		lastTick = tick
		haveLast = true
	}

	if err := bw.WriteBit(false); err != nil {
		return written, err
	}
	return written, nil
}

func (b *Buffer[C]) sortedTicks() []TickID {
	ticks := make([]TickID, 0, len(b.commands))
	for t := range b.commands {
		ticks = append(ticks, t)
	}
	for i := 1; i < len(ticks); i++ {
		for j := i; j > 0 && Less(ticks[j], ticks[j-1]); j-- {
			ticks[j], ticks[j-1] = ticks[j-1], ticks[j]
		}
	}
	return ticks
}

// DecodeSection reads a tick command section written by WriteSection.
func DecodeSection[C any](r *wire.BitReader, codec Codec[C]) ([]Entry[C], error) {
	var entries []Entry[C]
	var lastTick TickID
	haveLast := false

	for {
		more, err := r.ReadBit()
		if err != nil {
			return nil, fmt.Errorf("tickbuffer: continue bit: %w", err)
		}
		if !more {
			return entries, nil
		}

		var tick TickID
		if !haveLast {
			raw, err := r.ReadBits(16)
			if err != nil {
				return nil, fmt.Errorf("tickbuffer: absolute tick id: %w", err)
			}
			tick = TickID(raw)
		} else {
			delta, err := r.ReadVarInt()
			if err != nil {
				return nil, fmt.Errorf("tickbuffer: tick id delta: %w", err)
			}
			tick = TickID(int32(lastTick) + delta)
		}

		cmd, err := codec.Read(r)
		if err != nil {
			return nil, fmt.Errorf("tickbuffer: command payload: %w", err)
		}

		entries = append(entries, Entry[C]{Tick: tick, Command: cmd})
		lastTick = tick
		haveLast = true
	}
}
