package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/erain9/batchingo/pkg/core"
)

func benchRequest(i int) *core.OrderRequest {
	req, _ := core.NewLimitRequest(
		fmt.Sprintf("bench-%d", i),
		"STT-USDC",
		core.Buy,
		fpdecimal.FromFloat(10.0),
		fpdecimal.FromFloat(100.0),
		"0xbench",
	)
	return req
}

func BenchmarkSubmitOrder(b *testing.B) {
	backend := NewBackend()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = backend.SubmitOrder(ctx, benchRequest(i))
	}
}

func BenchmarkSubmitOrdersBatch(b *testing.B) {
	for _, size := range []int{5, 20, 100} {
		b.Run(fmt.Sprintf("size-%d", size), func(b *testing.B) {
			backend := NewBackend()
			ctx := context.Background()

			reqs := make([]*core.OrderRequest, size)
			for i := range reqs {
				reqs[i] = benchRequest(i)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, _ = backend.SubmitOrders(ctx, reqs)
			}
		})
	}
}

func BenchmarkSubmitOrderParallel(b *testing.B) {
	backend := NewBackend()
	ctx := context.Background()

	var seq atomic.Int64
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = backend.SubmitOrder(ctx, benchRequest(int(seq.Add(1))))
		}
	})
}
