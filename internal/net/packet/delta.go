package packet

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/l1jgo/tilegrid/internal/core/timing"
	"github.com/l1jgo/tilegrid/internal/geom"
	"github.com/l1jgo/tilegrid/internal/mapping"
)

const (
	chunkDeleted byte = 0
	chunkTiles   byte = 1
)

// bytes per tile on the wire: type id, flags, variant
const tileWireSize = 6

// MaxChunksPerPacket is the most chunks one GRID_DELTA packet can carry.
const MaxChunksPerPacket = math.MaxUint16

var ErrTooManyChunks = errors.New("packet: too many chunks for one packet")

// EncodeGridDelta builds an S_OPCODE_GRID_DELTA packet:
//
//	[D grid][H chunk size][DU from][DU to][H chunk count]
//	per chunk: [D x][D y][C presence] then size*size tiles of [D type][C flags][C variant]
//
// A delta with more than MaxChunksPerPacket chunks is rejected; use
// EncodeGridDeltas to split it.
func EncodeGridDelta(d mapping.GridDelta) ([]byte, error) {
	if len(d.Chunks) > MaxChunksPerPacket {
		return nil, fmt.Errorf("encode grid delta %d: %d chunks: %w", d.Grid, len(d.Chunks), ErrTooManyChunks)
	}
	return encodeGridDelta(d), nil
}

// EncodeGridDeltas encodes d as one or more packets, chunks kept in order.
// Every part carries the same tick range, so a receiver applies them one by
// one.
func EncodeGridDeltas(d mapping.GridDelta) [][]byte {
	return splitGridDelta(d, MaxChunksPerPacket)
}

func splitGridDelta(d mapping.GridDelta, limit int) [][]byte {
	if len(d.Chunks) <= limit {
		return [][]byte{encodeGridDelta(d)}
	}
	out := make([][]byte, 0, (len(d.Chunks)+limit-1)/limit)
	for part := range slices.Chunk(d.Chunks, limit) {
		sub := d
		sub.Chunks = part
		out = append(out, encodeGridDelta(sub))
	}
	return out
}

func encodeGridDelta(d mapping.GridDelta) []byte {
	w := NewWriterWithOpcode(S_OPCODE_GRID_DELTA)
	n := int(d.ChunkSize) * int(d.ChunkSize)
	w.Grow(16 + len(d.Chunks)*(9+n*tileWireSize))
	w.WriteD(int32(d.Grid))
	w.WriteH(d.ChunkSize)
	w.WriteDU(uint32(d.FromTick))
	w.WriteDU(uint32(d.ToTick))
	w.WriteH(uint16(len(d.Chunks)))
	for _, c := range d.Chunks {
		w.WriteD(c.Indices.X)
		w.WriteD(c.Indices.Y)
		if c.Deleted() {
			w.WriteC(chunkDeleted)
			continue
		}
		w.WriteC(chunkTiles)
		for _, t := range c.Tiles {
			w.WriteD(t.TypeID)
			w.WriteC(t.Flags)
			w.WriteC(t.Variant)
		}
	}
	return w.Bytes()
}

// DecodeGridDelta parses a packet built by EncodeGridDelta.
func DecodeGridDelta(data []byte) (mapping.GridDelta, error) {
	r := NewReader(data)
	if op := r.Opcode(); op != S_OPCODE_GRID_DELTA {
		return mapping.GridDelta{}, fmt.Errorf("decode grid delta: unexpected opcode %d", op)
	}
	d := mapping.GridDelta{
		Grid:      mapping.GridID(r.ReadD()),
		ChunkSize: r.ReadH(),
		FromTick:  timing.Tick(r.ReadDU()),
		ToTick:    timing.Tick(r.ReadDU()),
	}
	count := int(r.ReadH())
	n := int(d.ChunkSize) * int(d.ChunkSize)
	if r.Err() == nil && count > 0 {
		d.Chunks = make([]mapping.ChunkDelta, 0, min(count, r.Remaining()/9))
	}
	for i := 0; i < count && r.Err() == nil; i++ {
		c := mapping.ChunkDelta{Indices: geom.V2i(r.ReadD(), r.ReadD())}
		switch presence := r.ReadC(); presence {
		case chunkDeleted:
		case chunkTiles:
			if r.Remaining() < n*tileWireSize {
				return mapping.GridDelta{}, fmt.Errorf("decode grid delta: chunk %s: %w", c.Indices, ErrShortRead)
			}
			c.Tiles = make([]mapping.Tile, n)
			for j := range c.Tiles {
				c.Tiles[j] = mapping.Tile{TypeID: r.ReadD(), Flags: r.ReadC(), Variant: r.ReadC()}
			}
		default:
			if r.Err() == nil {
				return mapping.GridDelta{}, fmt.Errorf("decode grid delta: chunk %s: bad presence byte %d", c.Indices, presence)
			}
		}
		d.Chunks = append(d.Chunks, c)
	}
	if err := r.Err(); err != nil {
		return mapping.GridDelta{}, fmt.Errorf("decode grid delta: %w", err)
	}
	return d, nil
}

// EncodeGridPlace builds an S_OPCODE_GRID_PLACE packet.
func EncodeGridPlace(g *mapping.Grid) []byte {
	t := g.Transform()
	w := NewWriterWithOpcode(S_OPCODE_GRID_PLACE)
	w.WriteD(int32(g.ID()))
	w.WriteD(int32(g.MapID()))
	w.WriteF(t.Position.X())
	w.WriteF(t.Position.Y())
	w.WriteF(t.Rotation)
	w.WriteF(g.TileSize())
	return w.Bytes()
}

// EncodeGridRemoved builds an S_OPCODE_GRID_REMOVED packet.
func EncodeGridRemoved(id mapping.GridID) []byte {
	w := NewWriterWithOpcode(S_OPCODE_GRID_REMOVED)
	w.WriteD(int32(id))
	return w.Bytes()
}

// EncodeHello builds an S_OPCODE_HELLO packet.
func EncodeHello(tick timing.Tick, chunkSize uint16) []byte {
	w := NewWriterWithOpcode(S_OPCODE_HELLO)
	w.WriteDU(uint32(tick))
	w.WriteH(chunkSize)
	return w.Bytes()
}
