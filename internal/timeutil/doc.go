// Package timeutil provides the time source used by the transport engine.
//
// [RealClock] is backed by the [time] package. [FakeClock] is a manual
// clock for tests: time moves only when [FakeClock.Advance] is called and due
// timer callbacks are executed synchronously in deadline order.
package timeutil
