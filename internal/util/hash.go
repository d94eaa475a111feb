// Package util contains internal helpers (hashing, power-of-two math,
// padded counters).
package util

import "fmt"

// Fnv64a hashes common key types using 64-bit FNV-1a. It backs the resolved
// index's bucket placement.
//
// Supported: string, []byte, [16]byte, [32]byte and [64]byte arrays, all
// int/uint widths, uintptr and fmt.Stringer. Other key types need a custom
// hasher supplied through the cache options; panicking here is deliberate so
// an unsupported type is caught immediately instead of hashing poorly.
func Fnv64a[K comparable](k K) uint64 {
	switch v := any(k).(type) {
	case string:
		return fnv64aBytes([]byte(v))
	case []byte:
		return fnv64aBytes(v)
	case [16]byte:
		return fnv64aBytes(v[:])
	case [32]byte:
		return fnv64aBytes(v[:])
	case [64]byte:
		return fnv64aBytes(v[:])
	case uint8:
		return fnv64aUint64(uint64(v))
	case uint16:
		return fnv64aUint64(uint64(v))
	case uint32:
		return fnv64aUint64(uint64(v))
	case uint64:
		return fnv64aUint64(v)
	case uint:
		return fnv64aUint64(uint64(v))
	case uintptr:
		return fnv64aUint64(uint64(v))
	case int8:
		return fnv64aUint64(uint64(uint8(v)))
	case int16:
		return fnv64aUint64(uint64(uint16(v)))
	case int32:
		return fnv64aUint64(uint64(uint32(v)))
	case int64:
		return fnv64aUint64(uint64(v))
	case int:
		return fnv64aUint64(uint64(v))
	case fmt.Stringer:
		return fnv64aBytes([]byte(v.String()))
	default:
		panic(fmt.Sprintf("util.Fnv64a: unsupported key type %T; provide a custom hasher", k))
	}
}

const (
	fnvOffset64 = 1469598103934665603
	fnvPrime64  = 1099511628211
)

func fnv64aBytes(b []byte) uint64 {
	h := uint64(fnvOffset64)
	for _, c := range b {
		h ^= uint64(c)
		h *= fnvPrime64
	}
	return h
}

// fnv64aUint64 hashes the 8 little-endian bytes of u without allocating.
func fnv64aUint64(u uint64) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < 8; i++ {
		h ^= uint64(byte(u))
		h *= fnvPrime64
		u >>= 8
	}
	return h
}
