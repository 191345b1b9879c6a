package sip

import "time"

// Default values of the engine timers.
const (
	// T1 is the message RTT estimate as described in RFC 3261.
	T1 = 500 * time.Millisecond
	// SendTimeout bounds a single [UDPTransport.Send] call.
	SendTimeout = time.Minute
	// STUNTimeout bounds a single [UDPTransport.SendSTUN] call.
	STUNTimeout = 30 * time.Second
)

// TimingConfig represents the engine timing config.
// Zero value uses default base values [T1], [SendTimeout] and [STUNTimeout].
// All other timings are calculated based on these base values.
type TimingConfig struct {
	t1,
	sendTimeout,
	stunTimeout time.Duration
}

var defTimingCfg TimingConfig

// NewTimings creates a new timing config with specified base values.
// See [TimingConfig] for more details about how base timing values are used.
func NewTimings(t1, sendTimeout, stunTimeout time.Duration) TimingConfig {
	return TimingConfig{t1, sendTimeout, stunTimeout}
}

// T1 is the message RTT estimate.
// It is equal to [T1] if not specified.
func (c TimingConfig) T1() time.Duration {
	if c.t1 == 0 {
		return T1
	}
	return c.t1
}

// SendTimeout is the upper bound of a send request.
// It is equal to [SendTimeout] if not specified.
func (c TimingConfig) SendTimeout() time.Duration {
	if c.sendTimeout == 0 {
		return SendTimeout
	}
	return c.sendTimeout
}

// STUNTimeout is the upper bound of a caller waiting for a STUN binding response.
// It is equal to [STUNTimeout] if not specified.
func (c TimingConfig) STUNTimeout() time.Duration {
	if c.stunTimeout == 0 {
		return STUNTimeout
	}
	return c.stunTimeout
}

// ConnTimeout returns the idle timeout of a connection record.
// It is equal to 64*[TimingConfig.T1].
func (c TimingConfig) ConnTimeout() time.Duration { return 64 * c.T1() }

// STUNMaxRTO returns the cap of the STUN retransmission interval.
// It is equal to 16*[TimingConfig.T1].
func (c TimingConfig) STUNMaxRTO() time.Duration { return 16 * c.T1() }
