// pkg/hnsw/persist.go
//
// The on-disk graph file format ("SHGR"): a 48-byte little-endian
// header, a node-metadata section sorted by VectorId, and a flat
// neighbor-id array the node ranges index into. The file is an
// optional cache over the heap, never the source of truth — LoadGraph's
// caller falls back to RebuildFromVectors on any error.
//
// The format is specified as directly mmap-castable on little-endian
// platforms; this loader honors that by mapping the file read-only and
// validating bytes in place, but copies node metadata and neighbor ids
// into native Go slices rather than holding the mapping open for the
// graph's lifetime, trading the zero-copy borrow for a simpler memory
// safety story once validation succeeds.
package hnsw

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"stratacore/pkg/types"
)

const (
	shgrMagic      = "SHGR"
	shgrVersion    = uint32(1)
	shgrHeaderSize = 48
)

// shgrNoEntry/shgrNoDeleted are the on-disk sentinels for "None".
const (
	shgrNoEntry   = ^uint64(0)
	shgrNoDeleted = ^uint64(0)
)

var (
	ErrBadMagic      = errors.New("hnsw: bad magic in graph file")
	ErrBadVersion    = errors.New("hnsw: unsupported graph file version")
	ErrTruncatedFile = errors.New("hnsw: graph file truncated")
	ErrLayerRange    = errors.New("hnsw: layer_range out of bounds")
	ErrOverflow      = errors.New("hnsw: integer overflow in graph file size calculation")
)

func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

func checkedMul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/a != b {
		return 0, ErrOverflow
	}
	return product, nil
}

func align8(n uint64) uint64 {
	rem := n % 8
	if rem == 0 {
		return n
	}
	return n + (8 - rem)
}

// Save serializes the graph to path via a sibling temp file and an
// atomic rename, so a concurrent Load never observes a half-written
// file.
func (g *Graph) Save(path string) error {
	g.mu.RLock()
	buf := g.encode()
	g.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// encode builds the full SHGR byte image of the graph.
func (g *Graph) encode() []byte {
	ids := make([]uint64, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var neighborData []uint64
	var nodeSection []byte

	for _, id := range ids {
		n := g.nodes[id]
		numLayers := n.level + 1
		ranges := make([][2]uint32, numLayers)
		for l := 0; l < numLayers; l++ {
			start := uint32(len(neighborData))
			neighbors := n.Neighbors(l)
			neighborData = append(neighborData, neighbors...)
			ranges[l] = [2]uint32{start, uint32(len(neighbors))}
		}

		nodeBuf := make([]byte, 32+8*numLayers)
		binary.LittleEndian.PutUint64(nodeBuf[0:8], id)
		binary.LittleEndian.PutUint64(nodeBuf[8:16], uint64(n.CreatedAt().UnixNano()))
		if n.Deleted() {
			binary.LittleEndian.PutUint64(nodeBuf[16:24], uint64(n.DeletedAt().UnixNano()))
		} else {
			binary.LittleEndian.PutUint64(nodeBuf[16:24], shgrNoDeleted)
		}
		binary.LittleEndian.PutUint32(nodeBuf[24:28], uint32(numLayers))
		off := 32
		for _, r := range ranges {
			binary.LittleEndian.PutUint32(nodeBuf[off:off+4], r[0])
			binary.LittleEndian.PutUint32(nodeBuf[off+4:off+8], r[1])
			off += 8
		}
		nodeSection = append(nodeSection, nodeBuf...)
	}

	// Every per-node record is itself a multiple of 8 bytes, so the
	// section is already aligned; pad defensively in case that ever
	// stops being true.
	if padLen := align8(uint64(len(nodeSection))) - uint64(len(nodeSection)); padLen > 0 {
		nodeSection = append(nodeSection, make([]byte, padLen)...)
	}

	header := make([]byte, shgrHeaderSize)
	copy(header[0:4], shgrMagic)
	binary.LittleEndian.PutUint32(header[4:8], shgrVersion)
	entryPoint := shgrNoEntry
	if g.hasEntryPoint {
		entryPoint = g.entryPoint
	}
	binary.LittleEndian.PutUint64(header[8:16], entryPoint)
	binary.LittleEndian.PutUint32(header[16:20], uint32(g.maxLevel))
	binary.LittleEndian.PutUint32(header[20:24], uint32(len(ids)))
	binary.LittleEndian.PutUint64(header[24:32], uint64(len(neighborData)))
	binary.LittleEndian.PutUint64(header[32:40], uint64(len(nodeSection)))

	neighborBuf := make([]byte, 8*len(neighborData))
	for i, v := range neighborData {
		binary.LittleEndian.PutUint64(neighborBuf[i*8:i*8+8], v)
	}

	out := make([]byte, 0, len(header)+len(nodeSection)+len(neighborBuf))
	out = append(out, header...)
	out = append(out, nodeSection...)
	out = append(out, neighborBuf...)
	return out
}

// LoadGraph opens and validates a graph file written by Save, resolving
// each node's embedding via lookupVector (the collection's heap). Any
// validation failure returns an error; the caller's recourse is
// RebuildFromVectors against the heap.
func LoadGraph(path string, config Config, lookupVector func(id uint64) (*types.Vector, bool)) (*Graph, error) {
	mm, err := openMmapFile(path)
	if err != nil {
		return nil, err
	}
	defer mm.Close()

	data := mm.Bytes()
	if len(data) < shgrHeaderSize {
		return nil, fmt.Errorf("%w: have %d bytes, need at least %d", ErrTruncatedFile, len(data), shgrHeaderSize)
	}
	if string(data[0:4]) != shgrMagic {
		return nil, ErrBadMagic
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != shgrVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}

	entryPointRaw := binary.LittleEndian.Uint64(data[8:16])
	maxLevel := binary.LittleEndian.Uint32(data[16:20])
	nodeCount := binary.LittleEndian.Uint32(data[20:24])
	neighborDataLen := binary.LittleEndian.Uint64(data[24:32])
	nodeSectionSize := binary.LittleEndian.Uint64(data[32:40])

	neighborStart, err := checkedAdd(shgrHeaderSize, nodeSectionSize)
	if err != nil {
		return nil, err
	}
	neighborStart = align8(neighborStart)

	neighborBytes, err := checkedMul(neighborDataLen, 8)
	if err != nil {
		return nil, err
	}
	requiredLen, err := checkedAdd(neighborStart, neighborBytes)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) < requiredLen {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedFile, requiredLen, len(data))
	}

	neighborSection := data[neighborStart : neighborStart+neighborBytes]
	neighbors := make([]uint64, neighborDataLen)
	for i := range neighbors {
		neighbors[i] = binary.LittleEndian.Uint64(neighborSection[i*8 : i*8+8])
	}

	g := NewGraph(config)
	offset := uint64(shgrHeaderSize)
	for i := uint32(0); i < nodeCount; i++ {
		if offset+32 > uint64(len(data)) {
			return nil, fmt.Errorf("%w: node metadata truncated at node index %d", ErrTruncatedFile, i)
		}
		nodeBuf := data[offset : offset+32]
		id := binary.LittleEndian.Uint64(nodeBuf[0:8])
		createdAtNano := binary.LittleEndian.Uint64(nodeBuf[8:16])
		deletedAtRaw := binary.LittleEndian.Uint64(nodeBuf[16:24])
		numLayers := binary.LittleEndian.Uint32(nodeBuf[24:28])
		offset += 32

		rangesLen, err := checkedMul(uint64(numLayers), 8)
		if err != nil {
			return nil, err
		}
		if offset+rangesLen > uint64(len(data)) {
			return nil, fmt.Errorf("%w: layer ranges truncated at node %d", ErrTruncatedFile, id)
		}
		rangesBuf := data[offset : offset+rangesLen]
		offset += rangesLen

		vector, ok := lookupVector(id)
		if !ok {
			return nil, fmt.Errorf("hnsw: node %d has no matching heap entry", id)
		}

		node := newNode(id, vector, int(numLayers)-1, time.Unix(0, int64(createdAtNano)))
		if deletedAtRaw != shgrNoDeleted {
			t := time.Unix(0, int64(deletedAtRaw))
			node.deletedAt = &t
		}

		for l := uint32(0); l < numLayers; l++ {
			start := binary.LittleEndian.Uint32(rangesBuf[l*8 : l*8+4])
			count := binary.LittleEndian.Uint32(rangesBuf[l*8+4 : l*8+8])
			end, err := checkedAdd(uint64(start), uint64(count))
			if err != nil || end > neighborDataLen {
				return nil, fmt.Errorf("%w: node %d layer %d", ErrLayerRange, id, l)
			}
			node.SetNeighbors(int(l), neighbors[start:start+count])
		}

		g.nodes[id] = node
	}

	if entryPointRaw != shgrNoEntry {
		g.entryPoint = entryPointRaw
		g.hasEntryPoint = true
		g.maxLevel = int(maxLevel)
	}

	return g, nil
}

// RebuildFromVectors rebuilds a graph from scratch by replaying the
// normal insert path over ids in ascending order — the fallback used
// whenever a graph file is missing or fails validation.
func RebuildFromVectors(config Config, ids []uint64, lookupVector func(id uint64) (*types.Vector, bool)) (*Graph, error) {
	sorted := append([]uint64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	g := NewGraph(config)
	for _, id := range sorted {
		vector, ok := lookupVector(id)
		if !ok {
			continue
		}
		if err := g.Insert(id, vector); err != nil {
			return nil, err
		}
	}
	return g, nil
}
