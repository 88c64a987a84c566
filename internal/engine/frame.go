package engine

import (
	"context"
	"sync"
	"time"

	"github.com/spring/spring-sub006/internal/bridge"
	"github.com/spring/spring-sub006/internal/events"
	"github.com/spring/spring-sub006/internal/script"
)

// Step runs one frame and returns its number.
func (e *Engine) Step(ctx context.Context) int64 {
	frame := e.clock.Next()

	if e.opts.Threaded {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.sim(ctx, frame)
		}()
		go func() {
			defer wg.Done()
			e.render(ctx)
		}()
		wg.Wait()
	} else {
		e.sim(ctx, frame)
		e.render(ctx)
	}

	e.safePoint(ctx, frame)
	return frame
}

// sim is the synced phase of a frame.
func (e *Engine) sim(ctx context.Context, frame int64) {
	ctx = script.WithThread(ctx, ThreadSim)
	e.deferred[ThreadSim].Drain(ctx)
	e.firePosted(ctx, ThreadSim)
	e.disp.Notify(ctx, events.GameFrame, frame)
}

// render is the unsynced phase of a frame.
func (e *Engine) render(ctx context.Context) {
	ctx = script.WithThread(ctx, ThreadRender)
	for _, inst := range e.Instances() {
		inst.Handle.Bridge().Drain(ctx)
	}
	e.deferred[ThreadRender].Drain(ctx)
	e.firePosted(ctx, ThreadRender)
	e.disp.Notify(ctx, events.Update)
	e.disp.Notify(ctx, events.DrawWorld)
	e.disp.Notify(ctx, events.DrawScreen)
}

// safePoint runs with neither phase active.
func (e *Engine) safePoint(ctx context.Context, frame int64) {
	e.processKills()
	if e.opts.Store != nil && e.opts.SyncInterval > 0 && frame%e.opts.SyncInterval == 0 {
		if _, err := e.Checkpoint(ctx); err != nil {
			e.log.Error("sync checkpoint failed", "frame", frame, "error", err)
		}
	}
}

// drainDeferred replays every deferred call-in, queued bridge call and
// posted event on its own thread.
func (e *Engine) drainDeferred(ctx context.Context) int {
	sctx := script.WithThread(ctx, ThreadSim)
	n := e.deferred[ThreadSim].Drain(sctx)
	n += e.firePosted(sctx, ThreadSim)
	rctx := script.WithThread(ctx, ThreadRender)
	for _, inst := range e.Instances() {
		n += inst.Handle.Bridge().Drain(rctx)
	}
	n += e.deferred[ThreadRender].Drain(rctx)
	n += e.firePosted(rctx, ThreadRender)
	return n
}

// Flush delivers everything still queued between the threads without
// stepping a frame, then processes pending kills. Returns the number of
// calls delivered.
func (e *Engine) Flush(ctx context.Context) int {
	n := e.drainDeferred(ctx)
	e.processKills()
	return n
}

// Run steps frames until frames have run (frames <= 0 runs forever), the
// context is cancelled or Stop is called. With a FrameRate each frame
// waits for the next tick.
//
// Run must be called from the engine's owner goroutine.
func (e *Engine) Run(ctx context.Context, frames int64) error {
	e.log.Info("engine starting", "threaded", e.opts.Threaded, "frames", frames, "rate", e.opts.FrameRate)

	var tick <-chan time.Time
	if e.opts.FrameRate > 0 {
		t := time.NewTicker(time.Second / time.Duration(e.opts.FrameRate))
		defer t.Stop()
		tick = t.C
	}

	for ran := int64(0); frames <= 0 || ran < frames; ran++ {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopped", "reason", "context cancelled", "frame", e.Frame())
			return ctx.Err()
		case <-e.stop:
			e.log.Info("engine stopped", "reason", "stop called", "frame", e.Frame())
			return nil
		default:
		}

		if tick != nil {
			select {
			case <-ctx.Done():
				e.log.Info("engine stopped", "reason", "context cancelled", "frame", e.Frame())
				return ctx.Err()
			case <-e.stop:
				e.log.Info("engine stopped", "reason", "stop called", "frame", e.Frame())
				return nil
			case <-tick:
			}
		}

		e.Step(ctx)
	}

	e.Flush(ctx)
	e.log.Info("engine finished", "frame", e.Frame())
	return nil
}

// Stop makes Run return before its next frame. Safe to call more than
// once and from any goroutine.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// DeferredStats returns the counters of the per-thread deferral queues.
func (e *Engine) DeferredStats() []bridge.Stats {
	return []bridge.Stats{e.deferred[ThreadSim].Stats(), e.deferred[ThreadRender].Stats()}
}
