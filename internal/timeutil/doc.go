// Package timeutil provides Timer, a stoppable and resettable wrapper over time.AfterFunc
// that remembers its duration and deadline.
//
// Protocol timers use it to double their interval on each retransmission:
//
//	tmr := timeutil.AfterFunc(t1, func() { ... })
//	...
//	tmr.Reset(2 * tmr.Duration())
//
// A callback scheduled before Stop or Reset never runs after them, so every expiry a caller
// observes belongs to the current generation of the timer.
// All timer operations are safe for concurrent use.
package timeutil
