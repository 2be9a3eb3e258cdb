package storage

import (
	"math"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"
)

// bloomFalsePositiveRate is the target false-positive rate SSTable bloom
// filters are sized for.
const bloomFalsePositiveRate = 0.01

// bloomFilter is a probabilistic set-membership structure with no false
// negatives, sized for a target false-positive rate. It uses
// Kirsch-Mitzenmacher double hashing: two independent xxhash digests of
// the key combine to simulate k independent hash functions.
type bloomFilter struct {
	bits []byte
	m    uint64 // number of bits
	k    uint64 // number of hash functions
}

// newBloomFilter sizes a filter for n expected keys at the package's
// target false-positive rate. n < 1 is treated as 1 to avoid a
// degenerate zero-size filter.
func newBloomFilter(n int) *bloomFilter {
	if n < 1 {
		n = 1
	}
	m := optimalBits(n, bloomFalsePositiveRate)
	k := optimalHashes(m, n)
	return &bloomFilter{
		bits: make([]byte, (m+7)/8),
		m:    uint64(m),
		k:    uint64(k),
	}
}

func optimalBits(n int, p float64) int {
	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	return int(math.Ceil(m))
}

func optimalHashes(m, n int) int {
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return k
}

func (b *bloomFilter) hashes(key []byte) (h1, h2 uint64) {
	h1 = xxhash.Sum64(key)
	h2 = xxhash.Sum64([]byte{0x5a}) ^ xxhash.Sum64(append(append([]byte{}, key...), 0x5a))
	return h1, h2
}

// Add records key as present.
func (b *bloomFilter) Add(key []byte) {
	h1, h2 := b.hashes(key)
	for i := uint64(0); i < b.k; i++ {
		bit := (h1 + i*h2) % b.m
		b.bits[bit/8] |= 1 << (bit % 8)
	}
}

// MayContain reports whether key might be present. false means key is
// definitely absent; true means key may or may not be present.
func (b *bloomFilter) MayContain(key []byte) bool {
	h1, h2 := b.hashes(key)
	for i := uint64(0); i < b.k; i++ {
		bit := (h1 + i*h2) % b.m
		if b.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// bloomWire is the on-disk JSON representation of a bloomFilter.
type bloomWire struct {
	Bits []byte `json:"bits"`
	M    uint64 `json:"m"`
	K    uint64 `json:"k"`
}

func (b *bloomFilter) encode() ([]byte, error) {
	return json.Marshal(bloomWire{Bits: b.bits, M: b.m, K: b.k})
}

func decodeBloomFilter(data []byte) (*bloomFilter, error) {
	var w bloomWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &bloomFilter{bits: w.Bits, m: w.M, k: w.K}, nil
}
