package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/itohio/stratolpc/pkg/clock"
)

// Publisher publishes encoded TM records.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close() error
}

// Envelope is the JSON message relayed over MQTT.
type Envelope struct {
	ID         string   `json:"id"`
	Instrument string   `json:"instrument"`
	Timestamp  string   `json:"timestamp"`
	Flags      []string `json:"flags"`
	Details    []string `json:"details"`
	Length     int      `json:"length"`
	Payload    []byte   `json:"payload"`
}

// FormatEnvelope creates the JSON envelope for a sent record.
func FormatEnvelope(instrument string, ts time.Time, hdr Header, payload []byte) ([]byte, error) {
	env := Envelope{
		ID:         uuid.NewString(),
		Instrument: instrument,
		Timestamp:  ts.UTC().Format(time.RFC3339),
		Flags:      make([]string, Fields),
		Details:    make([]string, Fields),
		Length:     len(payload),
		Payload:    payload,
	}
	for i := 0; i < Fields; i++ {
		env.Flags[i] = hdr.Flags[i].String()
		env.Details[i] = hdr.Details[i]
	}
	return json.Marshal(env)
}

// MQTTTransport is a Buffer that relays every sent record to a broker.
type MQTTTransport struct {
	Buffer
	pub        Publisher
	topic      string
	instrument string
	clk        clock.Clock
}

var _ Transport = (*MQTTTransport)(nil)

// NewMQTTTransport creates a transport publishing to topic.
func NewMQTTTransport(pub Publisher, topic, instrument string, clk clock.Clock) *MQTTTransport {
	return &MQTTTransport{pub: pub, topic: topic, instrument: instrument, clk: clk}
}

// Send closes the record and publishes it. The record is consumed even when
// publishing fails.
func (t *MQTTTransport) Send() error {
	if err := t.Buffer.Send(); err != nil {
		return err
	}
	data, err := FormatEnvelope(t.instrument, t.clk.Now(), t.Sent(), t.Payload())
	if err != nil {
		return fmt.Errorf("format envelope: %w", err)
	}
	if err := t.pub.Publish(t.topic, data); err != nil {
		return fmt.Errorf("publish tm: %w", err)
	}
	return nil
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &RealPublisher{client: client}, nil
}

// Publish sends payload with QoS 1 so a record survives a reconnect.
func (p *RealPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	Topics   []string
	Payloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	Closed bool
}

// Publish records the message.
func (f *FakePublisher) Publish(topic string, payload []byte) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Topics = append(f.Topics, topic)
	f.Payloads = append(f.Payloads, append([]byte(nil), payload...))
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}
