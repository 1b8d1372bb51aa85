package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/evse-interlock/internal/telemetry"
)

// DefaultBufferSize is how many messages are held while disconnected.
const DefaultBufferSize = 256

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Encoder    telemetry.Encoder
	BufferSize int

	// OnTimeSync is called from the client goroutine for each valid
	// time_sync downlink. It must not block.
	OnTimeSync func(epoch time.Time)
}

// RealPublisher publishes to an actual MQTT broker, buffering while the
// connection is down and replaying once it returns.
type RealPublisher struct {
	client     paho.Client
	enc        telemetry.Encoder
	onTimeSync func(time.Time)

	mu  sync.Mutex
	buf *outbox
}

// NewRealPublisher creates a publisher connected to the given broker. If the
// broker is unreachable the client keeps retrying in the background and
// messages are buffered meanwhile.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.ClientID == "" {
		opts.ClientID = "evse-interlock"
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	p := &RealPublisher{
		enc:        opts.Encoder,
		onTimeSync: opts.OnTimeSync,
		buf:        newOutbox(opts.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, buffering until connected", opts.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	log.Printf("mqtt: connected")

	token := c.Subscribe(TopicDownlink, 1, p.handleDownlink)
	if !token.WaitTimeout(5 * time.Second) {
		log.Printf("mqtt: subscribe %s: timeout", TopicDownlink)
	} else if err := token.Error(); err != nil {
		log.Printf("mqtt: subscribe %s: %v", TopicDownlink, err)
	}

	online, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "ONLINE"})
	c.Publish(TopicSystem, 1, true, online)

	p.mu.Lock()
	msgs := p.buf.drain()
	p.mu.Unlock()

	if len(msgs) > 0 {
		log.Printf("mqtt: replaying %d buffered messages", len(msgs))
	}
	for _, m := range msgs {
		token := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			log.Printf("mqtt: replay to %s failed: %v", m.topic, token.Error())
		}
	}
}

func (p *RealPublisher) handleDownlink(_ paho.Client, m paho.Message) {
	epoch, ok, err := ParseTimeSync(m.Payload())
	if err != nil {
		log.Printf("mqtt: downlink: %v", err)
		return
	}
	if !ok {
		return
	}
	if p.onTimeSync != nil {
		p.onTimeSync(epoch)
	}
}

// send publishes msg, or buffers it when the connection is down or the
// publish fails. It returns ErrQueueFull when buffering dropped an older message.
func (p *RealPublisher) send(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		return p.buffer(msg)
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		log.Printf("mqtt: publish to %s timed out, buffering", msg.topic)
		return p.buffer(msg)
	}
	if err := token.Error(); err != nil {
		log.Printf("mqtt: publish to %s: %v, buffering", msg.topic, err)
		return p.buffer(msg)
	}
	return nil
}

func (p *RealPublisher) buffer(msg bufferedMsg) error {
	p.mu.Lock()
	dropped := p.buf.push(msg)
	p.mu.Unlock()
	if dropped {
		return ErrQueueFull
	}
	return nil
}

// Publish sends a telemetry record to the MQTT broker.
func (p *RealPublisher) Publish(rec telemetry.Record) error {
	payload, err := p.enc.Marshal(rec)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1 (at-least-once), not retained
	return p.send(bufferedMsg{topic: TopicEvents, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for the connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
