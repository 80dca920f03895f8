package workload_test

import (
	"testing"
	"time"

	"wisp/internal/workload"
)

func TestChannelSinkForwardsEvents(t *testing.T) {
	ch := make(chan workload.Event, 1)
	sink := workload.ChannelSink{Ch: ch}

	sink.OnEvent(workload.Event{Stage: workload.StageChurn, Status: workload.StatusWorking})
	select {
	case evt := <-ch:
		if evt.Stage != workload.StageChurn {
			t.Fatalf("expected churn event, got %s", evt.Stage)
		}
	default:
		t.Fatal("expected an event on the channel")
	}

	// A zero sink drops events instead of panicking.
	workload.ChannelSink{}.OnEvent(workload.Event{})
}

func TestTimingsAccounting(t *testing.T) {
	var timings workload.Timings
	timings.Set(workload.StagePopulate, 2*time.Millisecond)
	timings.Set(workload.StageChurn, 3*time.Millisecond)

	if !timings.Has(workload.StagePopulate) {
		t.Fatal("expected populate timing to be recorded")
	}
	if timings.Has(workload.StageDrain) {
		t.Fatal("unexpected drain timing")
	}
	if got := timings.Duration(workload.StageChurn); got != 3*time.Millisecond {
		t.Fatalf("expected 3ms, got %v", got)
	}
	if got := timings.Sum(workload.StagePopulate, workload.StageChurn); got != 5*time.Millisecond {
		t.Fatalf("expected 5ms total, got %v", got)
	}
}
