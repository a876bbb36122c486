package main

import (
	"log/slog"
	"sync"
	"time"
)

// DeviceSink receives positions from the dispatch loop. Implementations must not block.
type DeviceSink interface {
	SendPosition(pos float64, d time.Duration)
	Stop()
}

// CueSink plays best-effort notifications.
type CueSink interface {
	Play(trigger, session string)
}

// StatusSink receives every published status snapshot.
type StatusSink interface {
	PublishStatus(snap StateSnapshot)
}

// CategoryLoader reads and installs a pattern category.
type CategoryLoader interface {
	LoadSet(category string) (*PatternSet, error)
	Swap(set *PatternSet)
}

// CategoryLoads tracks the most recent category request. Only the load whose
// sequence number is still the latest may install its set; installs and their
// CategoryLoaded events are serialised so the store and the engine agree.
type CategoryLoads struct {
	mu     sync.Mutex
	latest uint64
}

func (l *CategoryLoads) request(seq uint64) {
	l.mu.Lock()
	l.latest = seq
	l.mu.Unlock()
}

// finish reports a completed load. It returns false when a newer request has
// superseded seq; otherwise install runs under the lock.
func (l *CategoryLoads) finish(seq uint64, install func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq != l.latest {
		return false
	}
	install()
	return true
}

// Effects bundles the collaborators runEffect talks to. Nil members are skipped.
type Effects struct {
	Device DeviceSink
	Cues   CueSink
	Status StatusSink
	Loader CategoryLoader
	Loads  *CategoryLoads
}

// runEffect executes a single engine-emitted Command against external systems.
//
// Rules:
//   - This function is allowed to perform I/O, but never blocks the daemon loop:
//     device sends go through the transport outbox and category loads run in
//     their own goroutine.
//   - It never calls into the Engine; asynchronous results come back as Events
//     through post.
func runEffect(fx Effects, cmd Command, logger *slog.Logger, post func(Event)) {
	switch c := cmd.(type) {
	case CmdSendPosition:
		if fx.Device == nil {
			return
		}
		fx.Device.SendPosition(c.Position, c.Duration)

	case CmdStopDevice:
		if fx.Device == nil {
			return
		}
		fx.Device.Stop()

	case CmdPlayCue:
		if fx.Cues != nil {
			fx.Cues.Play(c.Trigger, c.Session)
		}

	case CmdPublishStatus:
		if fx.Status != nil {
			fx.Status.PublishStatus(c.Status)
		}

	case CmdLoadCategory:
		if fx.Loader == nil || fx.Loads == nil || post == nil {
			logger.Warn("category load requested without a loader", "category", c.Category)
			return
		}
		fx.Loads.request(c.Seq)
		go func(category string, seq uint64) {
			set, err := fx.Loader.LoadSet(category)
			var done CategoryLoaded
			current := fx.Loads.finish(seq, func() {
				if err != nil {
					done = CategoryLoaded{Category: category, Seq: seq, Err: err}
					return
				}
				fx.Loader.Swap(set)
				done = CategoryLoaded{Category: category, Seq: seq, Count: set.Len()}
			})
			if !current {
				logger.Debug("superseded category load discarded", "category", category, "seq", seq)
				return
			}
			if err != nil {
				logger.Warn("category load failed", "category", category, "error", err)
			}
			post(done)
		}(c.Category, c.Seq)

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the daemon loop on a slow requester.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}
}
