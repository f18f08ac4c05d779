package ir

import (
	"hash/maphash"
	"math"
	"unsafe"

	"github.com/texc/texc/dtype"
)

// Hasher computes a 64-bit structural hash of any IR subtree and caches
// results per node pointer, per spec.md §4.5. A single seed is shared by
// every Hasher instance so that hashes computed by different Hasher
// values over structurally-equal trees agree — maphash documents its
// per-process Seed as stable across Hash values sharing it.
var hashSeed = maphash.MakeSeed()

type Hasher struct {
	cache map[any]uint64
}

func NewHasher() *Hasher {
	return &Hasher{cache: map[any]uint64{}}
}

// Hash returns n's structural hash, consulting and populating the cache.
func (h *Hasher) Hash(n any) uint64 {
	if v, ok := h.cache[n]; ok {
		return v
	}
	v := h.compute(n)
	h.cache[n] = v
	return v
}

// Cached reports whether n's hash has already been computed by h.
func (h *Hasher) Cached(n any) bool {
	_, ok := h.cache[n]
	return ok
}

func (h *Hasher) compute(n any) uint64 {
	var hh maphash.Hash
	hh.SetSeed(hashSeed)
	switch t := n.(type) {
	case *IntImm:
		writeTag(&hh, tagIntImm)
		writeU32(&hh, uint32(t.Value))
	case *FloatImm:
		writeTag(&hh, tagFloatImm)
		writeU32(&hh, math.Float32bits(t.Value))
	case *Var:
		// Identity hash: the pointer value itself, not NameHint, per
		// spec.md §4.5's "variables hash by identity."
		writeTag(&hh, tagVar)
		writePtr(&hh, t)
	case *Cast:
		writeTag(&hh, tagCast)
		writeDtype(&hh, t.dt)
		writeU64(&hh, h.Hash(t.Src))
	case *BinaryExpr:
		writeTag(&hh, tagBinary)
		writeU32(&hh, uint32(t.Op))
		writeU64(&hh, h.Hash(t.L))
		writeU64(&hh, h.Hash(t.R))
	case *MinMax:
		writeTag(&hh, tagMinMax)
		writeBool(&hh, t.IsMax)
		writeBool(&hh, t.PropagateNaNs)
		writeU64(&hh, h.Hash(t.L))
		writeU64(&hh, h.Hash(t.R))
	case *CompareSelect:
		writeTag(&hh, tagCompareSelect)
		writeU32(&hh, uint32(t.Op))
		writeU64(&hh, h.Hash(t.L))
		writeU64(&hh, h.Hash(t.R))
		writeU64(&hh, h.Hash(t.TrueV))
		writeU64(&hh, h.Hash(t.FalseV))
	case *Let:
		writeTag(&hh, tagLet)
		writeU64(&hh, h.Hash(t.VarNode))
		writeU64(&hh, h.Hash(t.Value))
		writeU64(&hh, h.Hash(t.Body))
	case *Ramp:
		writeTag(&hh, tagRamp)
		writeU32(&hh, uint32(t.LanesN))
		writeU64(&hh, h.Hash(t.BaseE))
		writeU64(&hh, h.Hash(t.Stride))
	case *Broadcast:
		writeTag(&hh, tagBroadcast)
		writeU32(&hh, uint32(t.LanesN))
		writeU64(&hh, h.Hash(t.Value))
	case *IfThenElse:
		writeTag(&hh, tagIfThenElse)
		writeU64(&hh, h.Hash(t.Cond))
		writeU64(&hh, h.Hash(t.T))
		writeU64(&hh, h.Hash(t.F))
	case *Load:
		writeTag(&hh, tagLoad)
		writeU64(&hh, h.Hash(t.BaseVar))
		writeU64(&hh, h.Hash(t.Index))
		writeU64(&hh, h.Hash(t.Mask))
	case *Intrinsic:
		writeTag(&hh, tagIntrinsic)
		writeU32(&hh, uint32(t.Op))
		for _, p := range t.Params {
			writeU64(&hh, h.Hash(p))
		}
	case *FunctionCall:
		writeTag(&hh, tagFunctionCall)
		hh.WriteString(t.Target.CallName())
		for _, idx := range t.Indices {
			writeU64(&hh, h.Hash(idx))
		}
	default:
		panic(malformed("ir.Hash: unhandled node type %T", n))
	}
	return hh.Sum64()
}

type tag byte

const (
	tagIntImm tag = iota
	tagFloatImm
	tagVar
	tagCast
	tagBinary
	tagMinMax
	tagCompareSelect
	tagLet
	tagRamp
	tagBroadcast
	tagIfThenElse
	tagLoad
	tagIntrinsic
	tagFunctionCall
)

func writeTag(h *maphash.Hash, t tag)    { h.WriteByte(byte(t)) }
func writeBool(h *maphash.Hash, b bool)  { h.WriteByte(boolByte(b)) }
func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func writeU32(h *maphash.Hash, v uint32) {
	h.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func writeU64(h *maphash.Hash, v uint64) {
	for i := 0; i < 8; i++ {
		h.WriteByte(byte(v >> (8 * i)))
	}
}

// writePtr hashes v's own address, the one unsafe-adjacent conversion
// the pointer-identity rule of spec.md §4.5 needs.
func writePtr(h *maphash.Hash, v *Var) {
	writeU64(h, uint64(uintptr(unsafe.Pointer(v))))
}

func writeDtype(h *maphash.Hash, d dtype.Dtype) {
	writeU32(h, uint32(d.Kind))
	writeU32(h, uint32(d.Lanes))
}
