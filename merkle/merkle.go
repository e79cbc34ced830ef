// Package merkle holds the entitlement tree: an RFC 6962 SHA-256 Merkle tree
// over serialized ClaimInfo leaves. Inclusion is checked with the
// transparency-dev verifier; the builder is only used by tooling and tests.
package merkle

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"
)

const HashSize = 32

var hasher = rfc6962.DefaultHasher

// Root commits to a whole tree. Size is part of the commitment: RFC 6962
// proofs are only meaningful for a known tree size.
type Root struct {
	Hash [HashSize]byte
	Size uint64
}

// Path is the audit path of one leaf, deepest sibling first.
type Path struct {
	Index  uint64
	Hashes [][HashSize]byte
}

// HashLeaf is SHA-256(0x00 | leaf).
func HashLeaf(leaf []byte) [HashSize]byte {
	var out [HashSize]byte
	copy(out[:], hasher.HashLeaf(leaf))
	return out
}

// Check reports whether leaf sits at p.Index in the tree committed to by r.
func (r Root) Check(p Path, leaf []byte) bool {
	return r.CheckHash(p, HashLeaf(leaf))
}

func (r Root) CheckHash(p Path, leafHash [HashSize]byte) bool {
	if r.Size == 0 || p.Index >= r.Size {
		return false
	}
	hashes := make([][]byte, len(p.Hashes))
	for i := range p.Hashes {
		hashes[i] = p.Hashes[i][:]
	}
	return proof.VerifyInclusion(hasher, p.Index, r.Size, leafHash[:], hashes, r.Hash[:]) == nil
}

func (r Root) String() string {
	return fmt.Sprintf("%x/%d", r.Hash, r.Size)
}

// ParseHash decodes a 32-byte hex node hash.
func ParseHash(s string) ([HashSize]byte, error) {
	var out [HashSize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("merkle hash: %w", err)
	}
	if len(b) != HashSize {
		return out, fmt.Errorf("merkle hash: must be %d bytes (got %d)", HashSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

var ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")

// Tree is an in-memory RFC 6962 tree. It keeps every perfect subtree node
// so inclusion paths can be read back for any leaf.
type Tree struct {
	rng   *compact.Range
	nodes map[compact.NodeID][]byte
}

var rangeFactory = &compact.RangeFactory{Hash: hasher.HashChildren}

func NewTree(leaves [][]byte) *Tree {
	t := &Tree{
		rng:   rangeFactory.NewEmptyRange(0),
		nodes: make(map[compact.NodeID][]byte, 2*len(leaves)),
	}
	for _, l := range leaves {
		t.Append(l)
	}
	return t
}

func (t *Tree) visit(id compact.NodeID, hash []byte) {
	t.nodes[id] = hash
}

// Append adds one leaf at index Size().
func (t *Tree) Append(leaf []byte) {
	// Append only fails for ranges built from foreign factories.
	if err := t.rng.Append(hasher.HashLeaf(leaf), t.visit); err != nil {
		panic(err)
	}
}

func (t *Tree) Size() uint64 { return t.rng.End() }

func (t *Tree) Root() Root {
	r := Root{Size: t.Size()}
	if r.Size == 0 {
		copy(r.Hash[:], hasher.EmptyRoot())
		return r
	}
	h, err := t.rng.GetRootHash(nil)
	if err != nil {
		panic(err)
	}
	copy(r.Hash[:], h)
	return r
}

func (t *Tree) Path(index uint64) (Path, error) {
	if index >= t.Size() {
		return Path{}, ErrIndexOutOfRange
	}
	nodes, err := proof.Inclusion(index, t.Size())
	if err != nil {
		return Path{}, fmt.Errorf("merkle: %w", err)
	}
	hashes := make([][]byte, len(nodes.IDs))
	for i, id := range nodes.IDs {
		h, ok := t.nodes[id]
		if !ok {
			return Path{}, fmt.Errorf("merkle: missing node %d/%d", id.Level, id.Index)
		}
		hashes[i] = h
	}
	hashes, err = nodes.Rehash(hashes, hasher.HashChildren)
	if err != nil {
		return Path{}, fmt.Errorf("merkle: %w", err)
	}
	p := Path{Index: index, Hashes: make([][HashSize]byte, len(hashes))}
	for i, h := range hashes {
		copy(p.Hashes[i][:], h)
	}
	return p, nil
}
