package bus

import (
	"context"
	"testing"
	"time"
)

type event struct{ id string }

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[event](10)
	out1 := fo.Subscribe("journal")
	out2 := fo.Subscribe("pnl")

	input := make(chan event, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- event{id: "o1"}

	for name, out := range map[string]<-chan event{"journal": out1, "pnl": out2} {
		select {
		case e := <-out:
			if e.id != "o1" {
				t.Errorf("%s: expected o1, got %s", name, e.id)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for event", name)
		}
	}
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New[event](1)
	_ = fo.Subscribe("slow")
	fast := fo.Subscribe("fast")

	dropped := make(chan string, 10)
	fo.OnDrop = func(name string) { dropped <- name }

	input := make(chan event)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- event{id: "a"}
	<-fast
	input <- event{id: "b"}
	<-fast

	select {
	case name := <-dropped:
		if name != "slow" {
			t.Errorf("expected drop for slow, got %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a drop for the slow subscriber")
	}

	stats := fo.ChannelStats()
	if len(stats) != 2 || stats[0].Len != 1 || stats[0].Cap != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestFanOut_ClosesOutputsOnInputClose(t *testing.T) {
	fo := New[event](1)
	out := fo.Subscribe("only")
	input := make(chan event)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()
	close(input)
	<-done

	if _, ok := <-out; ok {
		t.Error("expected closed output")
	}
}
