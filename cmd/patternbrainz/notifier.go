package main

import (
	"log/slog"
	"sync"
	"time"
)

// Cue cooldowns. A trigger repeated inside its window is dropped.
const defaultCueCooldown = 500 * time.Millisecond

var cueCooldowns = map[string]time.Duration{
	"skip":           time.Second,
	"emergency_stop": 0,
}

// Notifier fires cues for external consumers. Play never blocks: cues are
// logged and pushed to the state WebSocket as "cue" frames.
type Notifier struct {
	queue  *BroadcastQueue
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewNotifier(queue *BroadcastQueue, logger *slog.Logger) *Notifier {
	return &Notifier{queue: queue, logger: logger, now: time.Now, last: make(map[string]time.Time)}
}

// allow records trigger as fired unless it is still cooling down.
func (n *Notifier) allow(trigger string, now time.Time) bool {
	cooldown, ok := cueCooldowns[trigger]
	if !ok {
		cooldown = defaultCueCooldown
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if last, seen := n.last[trigger]; seen && now.Sub(last) < cooldown {
		return false
	}
	n.last[trigger] = now
	return true
}

func (n *Notifier) Play(trigger, session string) {
	now := n.now()
	if !n.allow(trigger, now) {
		n.logger.Debug("cue suppressed", "trigger", trigger)
		return
	}

	if session != "" {
		n.logger.Info("cue", "trigger", trigger, "session", session)
	} else {
		n.logger.Info("cue", "trigger", trigger)
	}
	if n.queue != nil {
		n.queue.Publish(BroadcastCue{Trigger: trigger, Session: session, At: now})
	}
}
