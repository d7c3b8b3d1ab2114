package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testMsg struct {
	n int
}

func TestLoopPollsByPriority(t *testing.T) {
	var order []string
	poll := func(name string) Controller {
		return ControlFunc(func(ControlContext) error {
			order = append(order, name)
			return nil
		})
	}
	loop := NewLoop()
	loop.AddController(PrLvConfig, poll("config"))
	loop.AddController(PrLvDiscovery, poll("mdns"))
	loop.AddController(PrLvService, poll("tftp"))
	loop.AddController(PrLvDiscovery, poll("mdns2"))

	loop.RunOnce(context.Background())
	require.Equal(t, []string{"mdns", "mdns2", "tftp", "config"}, order)
	require.EqualValues(t, 1, loop.Iterations())
}

func TestLoopControllerErrorIsNotFatal(t *testing.T) {
	var polled int
	loop := NewLoop()
	loop.AddController(PrLvTop, ControlFunc(func(ControlContext) error {
		return errors.New("boom")
	}))
	loop.AddController(PrLvIdle, ControlFunc(func(ControlContext) error {
		polled++
		return nil
	}))
	loop.RunOnce(context.Background())
	loop.RunOnce(context.Background())
	require.Equal(t, 2, polled)
}

func TestLoopMessages(t *testing.T) {
	var seen []int
	loop := NewLoop()
	loop.AddController(PrLvNormal, ControlFunc(func(cc ControlContext) error {
		cc.Messages().ProcessMessages(ProcessMessageFunc(func(mc MessageProcessingContext) {
			msg := mc.CurrentMessage().(*testMsg)
			seen = append(seen, msg.n)
			if msg.n%2 == 0 {
				mc.MessageTaken()
			}
		}))
		return nil
	}))

	loop.PostMessage(&testMsg{n: 1})
	loop.PostMessage(&testMsg{n: 2})
	loop.RunOnce(context.Background())
	require.Equal(t, []int{1, 2}, seen)

	// the message nobody took survives to the next iteration
	seen = nil
	loop.PostMessage(&testMsg{n: 4})
	loop.RunOnce(context.Background())
	require.Equal(t, []int{1, 4}, seen)
}

func TestLoopStopProcessing(t *testing.T) {
	var seen []int
	loop := NewLoop()
	loop.AddController(PrLvNormal, ControlFunc(func(cc ControlContext) error {
		cc.Messages().ProcessMessages(ProcessMessageFunc(func(mc MessageProcessingContext) {
			seen = append(seen, mc.CurrentMessage().(*testMsg).n)
			mc.MessageTaken()
			mc.StopProcessing()
		}))
		return nil
	}))
	for i := 1; i <= 3; i++ {
		loop.PostMessage(&testMsg{n: i})
	}
	loop.RunOnce(context.Background())
	loop.RunOnce(context.Background())
	loop.RunOnce(context.Background())
	require.Equal(t, []int{1, 2, 3}, seen)
}

func TestLoopTriggerNext(t *testing.T) {
	polled := make(chan struct{}, 16)
	loop := NewLoop()
	loop.Interval = time.Hour
	loop.AddController(PrLvNormal, ControlFunc(func(ControlContext) error {
		polled <- struct{}{}
		return nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	loop.TriggerNext()
	select {
	case <-polled:
	case <-time.After(5 * time.Second):
		t.Fatal("iteration not triggered")
	}
	cancel()
	require.Equal(t, context.Canceled, <-done)
}

func TestAggregatedError(t *testing.T) {
	var errs AggregatedError
	require.NoError(t, errs.Add(nil).Aggregate())
	errs.Add(errors.New("a"), nil, errors.New("b"))
	err := errs.Aggregate()
	require.Error(t, err)
	require.Equal(t, "2 errors: a; b", err.Error())

	var single AggregatedError
	closed := errors.New("closed")
	err = single.Add(closed).Aggregate()
	require.Equal(t, "closed", err.Error())
	require.True(t, errors.Is(err, closed))
}

type runFunc func(context.Context) error

func (f runFunc) Run(ctx context.Context) error { return f(ctx) }

func TestRunnerWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := NewRunnerWith(ctx)
	runner.Go(
		NamedRun("canceled", runFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})),
		runFunc(func(context.Context) error { return errors.New("failed") }),
	)
	require.Equal(t, "canceled", runner.Runners[0].(Named).Name())
	cancel()
	err := runner.Wait()
	require.Error(t, err)
	require.Equal(t, []error{errors.New("failed")}, err.(*AggregatedError).Errors)
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	loop := NewLoop()
	var started bool
	loop.AddRunnable(runFunc(func(ctx context.Context) error {
		started = true
		<-ctx.Done()
		return nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	loop.AddController(PrLvNormal, ControlFunc(func(cc ControlContext) error {
		if loop.Iterations() >= 2 {
			cancel()
		}
		return nil
	}))
	require.Equal(t, context.Canceled, loop.Run(ctx))
	require.True(t, started)
	require.True(t, loop.Iterations() >= 3)
}
