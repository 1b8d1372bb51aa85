package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages while the broker is unreachable, oldest first.
// When full it evicts the oldest non-retained message, so lifecycle events
// outlive telemetry. A retained message replaces any queued retained message
// on the same topic, since the broker would only keep the last one anyway.
// Not safe for concurrent use; caller must synchronize.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	dropped  int  // total messages evicted since creation
	warned   bool // eviction logged since the last drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{capacity: capacity}
}

// push queues msg and reports whether an older message was evicted for it.
func (o *outbox) push(msg bufferedMsg) bool {
	if msg.retained {
		for i, m := range o.msgs {
			if m.retained && m.topic == msg.topic {
				o.remove(i)
				break
			}
		}
	}

	evicted := false
	if len(o.msgs) >= o.capacity {
		victim := 0
		for i, m := range o.msgs {
			if !m.retained {
				victim = i
				break
			}
		}
		o.remove(victim)
		o.dropped++
		evicted = true
		if !o.warned {
			log.Printf("mqtt: outbox full (%d messages), evicting", o.capacity)
			o.warned = true
		}
	}

	o.msgs = append(o.msgs, msg)
	return evicted
}

func (o *outbox) remove(i int) {
	o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
}

// drain returns the queued messages oldest first and empties the outbox.
func (o *outbox) drain() []bufferedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := o.msgs
	o.msgs = nil
	o.warned = false
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}
