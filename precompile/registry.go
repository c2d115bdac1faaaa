// Package precompile names and diagnoses the precompiled contracts active
// under a set of fork rules. A Registry serves both the trace collector,
// which needs to recognize precompile addresses, and the stack trace
// decoder, which reports failed precompile calls.
package precompile

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
)

// Precompile numbers with input checks.
const (
	ECRecover       uint32 = 0x01
	SHA256          uint32 = 0x02
	RIPEMD160       uint32 = 0x03
	Identity        uint32 = 0x04
	ModExp          uint32 = 0x05
	BN254Add        uint32 = 0x06
	BN254Mul        uint32 = 0x07
	BN254Pairing    uint32 = 0x08
	Blake2F         uint32 = 0x09
	PointEvaluation uint32 = 0x0a
	BLS12G1Add      uint32 = 0x0b
	BLS12G1MSM      uint32 = 0x0c
	BLS12G2Add      uint32 = 0x0d
	BLS12G2MSM      uint32 = 0x0e
	BLS12Pairing    uint32 = 0x0f
	BLS12MapFpToG1  uint32 = 0x10
	BLS12MapFp2ToG2 uint32 = 0x11
	P256Verify      uint32 = 0x100
)

type entry struct {
	number   uint32
	address  common.Address
	contract vm.PrecompiledContract
}

// Registry indexes the active precompiles by address and number. It is
// immutable after construction.
type Registry struct {
	rules    params.Rules
	byAddr   map[common.Address]*entry
	byNumber map[uint32]*entry
}

// NewRegistry builds the registry for the given fork rules.
func NewRegistry(rules params.Rules) *Registry {
	r := &Registry{
		rules:    rules,
		byAddr:   make(map[common.Address]*entry),
		byNumber: make(map[uint32]*entry),
	}
	for addr, contract := range vm.ActivePrecompiledContracts(rules) {
		num, ok := numberOf(addr)
		if !ok {
			continue
		}
		e := &entry{number: num, address: addr, contract: contract}
		r.byAddr[addr] = e
		r.byNumber[num] = e
	}
	return r
}

// Latest returns the registry with every mainnet fork activated.
func Latest() *Registry {
	return NewRegistry(params.MainnetChainConfig.Rules(new(big.Int).SetUint64(1<<62), true, 1<<62))
}

// numberOf reads the precompile number from the low four bytes of addr.
// Addresses with any other byte set are not precompiles.
func numberOf(addr common.Address) (uint32, bool) {
	for _, b := range addr[:common.AddressLength-4] {
		if b != 0 {
			return 0, false
		}
	}
	return binary.BigEndian.Uint32(addr[common.AddressLength-4:]), true
}

// AddressOf returns the address of precompile number.
func AddressOf(number uint32) common.Address {
	var addr common.Address
	binary.BigEndian.PutUint32(addr[common.AddressLength-4:], number)
	return addr
}

// IsPrecompile reports whether addr is an active precompile.
func (r *Registry) IsPrecompile(addr common.Address) bool {
	_, ok := r.byAddr[addr]
	return ok
}

// Number returns the precompile number of addr.
func (r *Registry) Number(addr common.Address) (uint32, bool) {
	e, ok := r.byAddr[addr]
	if !ok {
		return 0, false
	}
	return e.number, true
}

// Name returns the go-ethereum name of precompile number, or a generic
// label when it is not active.
func (r *Registry) Name(number uint32) string {
	if e, ok := r.byNumber[number]; ok {
		return e.contract.Name()
	}
	return fmt.Sprintf("precompile 0x%x", number)
}

// Numbers returns the active precompile numbers in ascending order.
func (r *Registry) Numbers() []uint32 {
	out := make([]uint32, 0, len(r.byNumber))
	for n := range r.byNumber {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of active precompiles.
func (r *Registry) Len() int { return len(r.byNumber) }
