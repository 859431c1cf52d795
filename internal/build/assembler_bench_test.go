package build

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkGenLibsCold(b *testing.B) {
	for _, threads := range []int{1, 4} {
		b.Run(fmt.Sprintf("threads=%d", threads), func(b *testing.B) {
			f := wideFixture(b, 16)
			backend := &fakeBackend{}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				// A fresh identity per iteration leaves the cache empty.
				a := newTestAssembler(b, threads, WithCacheOptions(testCacheOptionsFor(i)))
				b.StartTimer()
				if _, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkGenLibsWarm(b *testing.B) {
	f := wideFixture(b, 16)
	backend := &fakeBackend{}
	a := newTestAssembler(b, 4)
	if _, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := a.GenLibs(context.Background(), f.program, f.scope, f.entry, backend); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRecordCompile(b *testing.B) {
	m := NewBuildMetrics()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordCompile("app.models", 0, nil)
	}
}
