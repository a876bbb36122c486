package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// The daemon goroutine is the only owner of the Engine. It:
//   - Receives Events from IPC, the joystick poller, the transport and the WS server
//   - Feeds them to Engine.Handle
//   - Runs Engine.Dispatch whenever the dispatch timer fires
//   - Executes every resulting Command through runEffect
//
// A single timer paces dispatch. It is armed only while the engine is active
// (playing, in manual override or homing) so an idle daemon does not wake up.
// The next dispatch is scheduled max(floor, duration - compute time) after the
// current one started.
//
// ============================================================================

// runDaemon runs until ctx is canceled or events is closed.
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	engine *Engine,
	fx Effects,
	floor time.Duration,
	post func(Event),
	logger *slog.Logger,
) {
	if engine == nil {
		logger.Error("daemon engine is nil")
		return
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	armed := false

	arm := func(d time.Duration) {
		timer.Reset(d)
		armed = true
	}
	disarm := func() {
		if armed {
			timer.Stop()
			armed = false
		}
	}

	execute := func(cmds []Command) {
		for _, cmd := range cmds {
			runEffect(fx, cmd, logger, post)
		}
	}

	for {
		select {
		case <-ctx.Done():
			disarm()
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				disarm()
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			res := engine.Handle(ev, time.Now())
			execute(res.Commands)

			switch {
			case !engine.Active():
				disarm()
			case res.Wake:
				arm(0)
			case !armed:
				arm(floor)
			}

		case <-timer.C:
			armed = false
			start := time.Now()
			res := engine.Dispatch(start)
			execute(res.Commands)

			if res.Wait <= 0 || !engine.Active() {
				continue
			}
			sleep := res.Wait - time.Since(start)
			if sleep < floor {
				sleep = floor
			}
			arm(sleep)
		}
	}
}
