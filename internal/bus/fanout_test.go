package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-enginev1/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[model.SignalRow](10)
	out1 := fo.Subscribe("sqlite")
	out2 := fo.Subscribe("gateway")

	input := make(chan model.SignalRow, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.SignalRow{Close: 105, Enter: true}

	for _, out := range []<-chan model.SignalRow{out1, out2} {
		select {
		case r := <-out:
			assert.Equal(t, 105.0, r.Close)
			assert.True(t, r.Enter)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for row")
		}
	}
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New[int](1)
	fast := fo.Subscribe("fast")
	slow := fo.Subscribe("slow")

	var dropped []string
	fo.OnDrop = func(name string) { dropped = append(dropped, name) }

	input := make(chan int)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()

	input <- 1
	assert.Equal(t, 1, <-fast)
	input <- 2 // slow still holds 1
	assert.Equal(t, 2, <-fast)

	close(input)
	<-done
	assert.Equal(t, []string{"slow"}, dropped)

	// outputs are closed after the buffered value drains
	assert.Equal(t, 1, <-slow)
	_, ok := <-slow
	assert.False(t, ok)
	_, ok = <-fast
	assert.False(t, ok)
}

func TestFanOut_ChannelStats(t *testing.T) {
	fo := New[int](4)
	fo.Subscribe("a")
	fo.Subscribe("b")

	input := make(chan int, 2)
	input <- 1
	input <- 2
	close(input)
	fo.Run(context.Background(), input)

	stats := fo.ChannelStats()
	require.Len(t, stats, 2)
	assert.Equal(t, ChannelStat{Name: "a", Len: 2, Cap: 4}, stats[0])
	assert.Equal(t, "b", stats[1].Name)
}
