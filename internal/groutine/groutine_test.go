package groutine_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/srg/blectl/internal/groutine"
	"github.com/stretchr/testify/assert"
)

func TestGoCarriesName(t *testing.T) {
	got := make(chan string, 1)
	groutine.Go(nil, "tick-source", func(ctx context.Context) {
		got <- groutine.Name(ctx)
	})
	assert.Equal(t, "tick-source", <-got)
	assert.Empty(t, groutine.Name(context.Background()))
}

func TestGroupWaitsForMembers(t *testing.T) {
	var g groutine.Group
	var done atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	for range 3 {
		g.Go(ctx, "member", func(ctx context.Context) {
			<-ctx.Done()
			done.Add(1)
		})
	}
	cancel()
	g.Wait()
	assert.Equal(t, int32(3), done.Load(), "Wait MUST return only after every member")
}
