package main

import (
	"math"
	"sync/atomic"
)

// atomicFloat is a float64 stored as bits for lock-free access across goroutines.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Load() float64 { return math.Float64frombits(f.bits.Load()) }

func (f *atomicFloat) Store(v float64) { f.bits.Store(math.Float64bits(v)) }

// Controls holds the scalar values shared between the joystick poller and the
// daemon loop. Every field is individually atomic; nothing here needs to be
// updated together.
type Controls struct {
	manualActive   atomic.Bool
	manualPosition atomicFloat // 0..1
	joystickMult   atomicFloat
	currentSpeed   atomicFloat // last resolved speed, for observers
}

// NewControls returns controls with a neutral joystick multiplier.
func NewControls(neutral float64) *Controls {
	c := &Controls{}
	c.joystickMult.Store(neutral)
	c.manualPosition.Store(0.5)
	return c
}

func (c *Controls) ManualOverride() ManualOverride {
	return ManualOverride{Active: c.manualActive.Load(), Position: c.manualPosition.Load()}
}

func (c *Controls) SetManualActive(active bool) { c.manualActive.Store(active) }

func (c *Controls) SetManualPosition(pos float64) { c.manualPosition.Store(clampFloat(pos, 0, 1)) }

func (c *Controls) JoystickMultiplier() float64 { return c.joystickMult.Load() }

func (c *Controls) SetJoystickMultiplier(v float64) { c.joystickMult.Store(v) }

func (c *Controls) CurrentSpeed() float64 { return c.currentSpeed.Load() }

func (c *Controls) setCurrentSpeed(v float64) { c.currentSpeed.Store(v) }
