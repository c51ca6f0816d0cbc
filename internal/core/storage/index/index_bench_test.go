package index

import "testing"

func BenchmarkIndex_Find(b *testing.B) {
	x := New[int](1 << 16)
	for i := 0; i < 1<<16; i++ {
		x.Assign(uint64(i), i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x.Find(uint64(i & (1<<16 - 1)))
	}
}

func BenchmarkIndex_AssignRemove(b *testing.B) {
	x := New[int](0)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		x.Assign(uint64(i), i)
		if i >= 1024 {
			x.TryRemove(uint64(i - 1024))
		}
	}
}
