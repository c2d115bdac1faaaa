package compiler

import (
	"bytes"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"golang.org/x/crypto/sha3"
)

// DefaultLookupCacheSize bounds the number of scanned lookups remembered,
// hits and misses alike.
const DefaultLookupCacheSize = 4096

// ContractsIdentifier maps observed bytecode to known compiled bytecode.
// Exact matches are found by hash; code that differs only in linked
// library addresses, immutable values, appended constructor arguments or
// the trailing metadata section is found by a scan.
type ContractsIdentifier struct {
	mu    sync.RWMutex
	exact map[common.Hash]*Bytecode
	all   []*Bytecode
	// scanned caches scan results by code hash. A nil value is a miss.
	scanned *lru.Cache[common.Hash, *Bytecode]
}

// NewContractsIdentifier returns an empty identifier.
func NewContractsIdentifier() *ContractsIdentifier {
	return NewContractsIdentifierWithCache(DefaultLookupCacheSize)
}

// NewContractsIdentifierWithCache returns an empty identifier remembering
// at most size scanned lookups.
func NewContractsIdentifierWithCache(size int) *ContractsIdentifier {
	if size <= 0 {
		size = DefaultLookupCacheSize
	}
	return &ContractsIdentifier{
		exact:   make(map[common.Hash]*Bytecode),
		scanned: lru.NewCache[common.Hash, *Bytecode](size),
	}
}

// Add registers compiled bytecode.
func (ci *ContractsIdentifier) Add(b *Bytecode) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.all = append(ci.all, b)
	ci.exact[codeHash(b.NormalizedCode, b.IsDeployment)] = b
	ci.scanned.Purge()
}

// Len returns the number of registered bytecodes.
func (ci *ContractsIdentifier) Len() int {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return len(ci.all)
}

// Lookup returns the compiled bytecode matching code, or nil. isCreate
// selects creation bytecode, which may be followed by constructor
// arguments.
func (ci *ContractsIdentifier) Lookup(code []byte, isCreate bool) *Bytecode {
	if len(code) == 0 {
		return nil
	}
	if !isCreate {
		code = NormalizeLibraryRuntimeCode(code)
	}
	h := codeHash(code, isCreate)

	ci.mu.RLock()
	defer ci.mu.RUnlock()
	if b, ok := ci.exact[h]; ok {
		return b
	}
	if b, ok := ci.scanned.Get(h); ok {
		return b
	}
	// Add purges under the write lock, so the result cannot go stale.
	found := ci.scan(code, isCreate)
	ci.scanned.Add(h, found)
	return found
}

func (ci *ContractsIdentifier) scan(code []byte, isCreate bool) *Bytecode {
	for _, b := range ci.all {
		if b.IsDeployment == isCreate && matches(b, code, isCreate, false) {
			return b
		}
	}
	for _, b := range ci.all {
		if b.IsDeployment == isCreate && matches(b, code, isCreate, true) {
			return b
		}
	}
	return nil
}

// matches compares code against b after masking b's link and immutable
// positions. With stripMetadata the trailing CBOR metadata of both is
// ignored.
func matches(b *Bytecode, code []byte, isCreate, stripMetadata bool) bool {
	want := b.NormalizedCode
	if stripMetadata {
		want = withoutMetadata(want)
		if !isCreate {
			code = withoutMetadata(code)
		}
	}
	if len(code) < len(want) || (!isCreate && len(code) != len(want)) {
		return false
	}
	got := append([]byte(nil), code[:len(want)]...)
	zeroRanges(got, b.LibraryOffsets)
	zeroRanges(got, b.ImmutableReferences)
	return bytes.Equal(got, want)
}

// withoutMetadata strips the CBOR metadata section solc appends to code.
// Its length is encoded in the final two bytes.
func withoutMetadata(code []byte) []byte {
	if len(code) < 2 {
		return code
	}
	n := int(code[len(code)-2])<<8 | int(code[len(code)-1])
	if n+2 > len(code) || n == 0 {
		return code
	}
	// CBOR maps emitted by solc start with 0xa1..0xa3.
	if first := code[len(code)-2-n]; first < 0xa1 || first > 0xa3 {
		return code
	}
	return code[:len(code)-2-n]
}

func codeHash(code []byte, isCreate bool) common.Hash {
	h := sha3.NewLegacyKeccak256()
	if isCreate {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(code)
	var out common.Hash
	h.Sum(out[:0])
	return out
}
