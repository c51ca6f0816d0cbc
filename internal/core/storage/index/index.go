// Package index implements an open hash index from 64-bit keys to values using
// randomized multiplicative hashing.
package index

import (
	"iter"
	"math/bits"
	"math/rand/v2"
)

const (
	minBuckets = 8
	// maxLoad is the average bucket length that triggers growth.
	maxLoad = 2
	// maxChain is the bucket length that triggers a redraw of the hash
	// parameters without growing.
	maxChain = 8
)

// Entry is one stored association.
type Entry[V any] struct {
	Key   uint64
	Value V
}

// Index maps uint64 keys to values. The bucket of a key is the high bits of
// a*k+b (mod 2^64), with a and b odd and drawn at random.
type Index[V any] struct {
	buckets [][]Entry[V]
	shift   uint
	a, b    uint64
	n       int
	rng     *rand.Rand
}

// New returns an index sized for about hint entries.
func New[V any](hint int) *Index[V] {
	return NewWithSource[V](hint, rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewWithSource is New with a caller-supplied random source, for reproducible
// bucket layouts.
func NewWithSource[V any](hint int, src rand.Source) *Index[V] {
	n := minBuckets
	for n*maxLoad < hint {
		n <<= 1
	}
	idx := &Index[V]{rng: rand.New(src)}
	idx.reset(n)
	idx.draw()
	return idx
}

// Len returns the number of stored entries.
func (x *Index[V]) Len() int { return x.n }

// NumBuckets returns the current bucket count.
func (x *Index[V]) NumBuckets() int { return len(x.buckets) }

// BucketAt returns the entries of bucket i. The slice must not be modified
// and is invalidated by the next mutation.
func (x *Index[V]) BucketAt(i int) []Entry[V] { return x.buckets[i] }

// Find returns the value stored under key.
func (x *Index[V]) Find(key uint64) (V, bool) {
	for _, e := range x.buckets[x.bucketOf(key)] {
		if e.Key == key {
			return e.Value, true
		}
	}
	var zero V
	return zero, false
}

// Insert stores value under key unless the key is already present. It
// reports whether the value was stored.
func (x *Index[V]) Insert(key uint64, value V) bool {
	i := x.bucketOf(key)
	for _, e := range x.buckets[i] {
		if e.Key == key {
			return false
		}
	}
	x.push(i, key, value)
	return true
}

// Assign stores value under key, replacing any previous value. It reports
// whether a previous value was replaced.
func (x *Index[V]) Assign(key uint64, value V) bool {
	i := x.bucketOf(key)
	bucket := x.buckets[i]
	for j := range bucket {
		if bucket[j].Key == key {
			bucket[j].Value = value
			return true
		}
	}
	x.push(i, key, value)
	return false
}

// TryRemove deletes key and returns the value it held.
func (x *Index[V]) TryRemove(key uint64) (V, bool) {
	i := x.bucketOf(key)
	bucket := x.buckets[i]
	for j := range bucket {
		if bucket[j].Key != key {
			continue
		}
		v := bucket[j].Value
		last := len(bucket) - 1
		bucket[j] = bucket[last]
		bucket[last] = Entry[V]{}
		x.buckets[i] = bucket[:last]
		x.n--
		return v, true
	}
	var zero V
	return zero, false
}

// Rehash draws new hash parameters and redistributes every entry. Key to
// value associations do not change.
func (x *Index[V]) Rehash() {
	x.rebuild(len(x.buckets))
}

// Clear drops every entry and keeps the bucket count.
func (x *Index[V]) Clear() {
	for i := range x.buckets {
		clear(x.buckets[i])
		x.buckets[i] = x.buckets[i][:0]
	}
	x.n = 0
}

// All yields every entry, bucket by bucket.
func (x *Index[V]) All() iter.Seq2[uint64, V] {
	return func(yield func(uint64, V) bool) {
		for _, bucket := range x.buckets {
			for _, e := range bucket {
				if !yield(e.Key, e.Value) {
					return
				}
			}
		}
	}
}

// MaxChain returns the length of the longest bucket.
func (x *Index[V]) MaxChain() int {
	longest := 0
	for _, bucket := range x.buckets {
		longest = max(longest, len(bucket))
	}
	return longest
}

func (x *Index[V]) push(i int, key uint64, value V) {
	x.buckets[i] = append(x.buckets[i], Entry[V]{Key: key, Value: value})
	x.n++

	switch {
	case x.n > len(x.buckets)*maxLoad:
		x.rebuild(len(x.buckets) * 2)
	case len(x.buckets[i]) > maxChain:
		x.rebuild(len(x.buckets))
	}
}

func (x *Index[V]) rebuild(numBuckets int) {
	old := x.buckets
	x.reset(numBuckets)
	x.draw()
	for _, bucket := range old {
		for _, e := range bucket {
			j := x.bucketOf(e.Key)
			x.buckets[j] = append(x.buckets[j], e)
		}
	}
}

func (x *Index[V]) reset(numBuckets int) {
	x.buckets = make([][]Entry[V], numBuckets)
	x.shift = uint(64 - bits.TrailingZeros(uint(numBuckets)))
}

func (x *Index[V]) draw() {
	x.a = x.rng.Uint64() | 1
	x.b = x.rng.Uint64() | 1
}

func (x *Index[V]) bucketOf(key uint64) int {
	return int((x.a*key + x.b) >> x.shift)
}
