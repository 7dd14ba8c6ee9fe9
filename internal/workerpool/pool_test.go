package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestSubmitRunsAllTasks(t *testing.T) {
	p := New(4, 8)
	defer p.Close()
	var count int64
	ctx := context.Background()
	var futures []*Future
	for i := 0; i < 20; i++ {
		f, err := p.Submit(ctx, func(context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		futures = append(futures, f)
	}
	for _, f := range futures {
		if err := f.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if count != 20 {
		t.Errorf("count = %d, want 20", count)
	}
}

func TestSubmitPropagatesError(t *testing.T) {
	p := New(2, 2)
	defer p.Close()
	ctx := context.Background()
	wantErr := context.Canceled
	f, err := p.Submit(ctx, func(context.Context) error {
		return wantErr
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Wait(ctx); err != wantErr {
		t.Errorf("Wait error = %v, want %v", err, wantErr)
	}
}
