package edge

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/brightwing/streamcore/internal/packet"
)

// forwardBatchSize matches spec.md §4.5's forwarder batching requirement:
// packets are buffered and flushed in groups of up to 128 rather than one
// send syscall per packet.
const forwardBatchSize = 128

// RTMPClient is the subset of internal/rtmp/client.Client a Destination
// needs, kept as an interface (same pattern as the teacher's relay
// package) so tests can substitute a fake without a real TCP connection.
type RTMPClient interface {
	Connect() error
	Publish() error
	SendAudio(timestamp uint32, payload []byte) error
	SendVideo(timestamp uint32, payload []byte) error
	Close() error
}

// RTMPClientFactory creates a new RTMPClient for a destination URL.
type RTMPClientFactory func(url string) (RTMPClient, error)

// DestinationStatus is the connection state of a forwarder destination.
type DestinationStatus int

const (
	StatusDisconnected DestinationStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s DestinationStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// DestinationMetrics tracks per-destination push performance.
type DestinationMetrics struct {
	PacketsSent    uint64
	PacketsDropped uint64
	BytesSent      uint64
	LastSentTime   time.Time
	ConnectTime    time.Time
}

// Destination is a single RTMP push target, generalized from the teacher's
// internal/rtmp/relay.Destination to forward packet.Packet instead of a
// raw chunk.Message, and to flush in batches of forwardBatchSize instead of
// one send per packet.
type Destination struct {
	URL           string
	clientFactory RTMPClientFactory
	logger        *slog.Logger

	mu      sync.RWMutex
	client  RTMPClient
	status  DestinationStatus
	lastErr error
	metrics DestinationMetrics

	buf []*packet.Packet
}

func NewDestination(rawURL string, logger *slog.Logger, clientFactory RTMPClientFactory) (*Destination, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("edge: invalid destination url: %w", err)
	}
	if parsed.Scheme != "rtmp" {
		return nil, fmt.Errorf("edge: destination url must use rtmp:// scheme, got %s", parsed.Scheme)
	}
	return &Destination{
		URL:           rawURL,
		clientFactory: clientFactory,
		logger:        logger.With("destination_url", rawURL),
		status:        StatusDisconnected,
	}, nil
}

// Connect dials and starts publishing to the destination.
func (d *Destination) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusConnected {
		return nil
	}
	d.status = StatusConnecting

	client, err := d.clientFactory(d.URL)
	if err != nil {
		d.status = StatusError
		d.lastErr = err
		return fmt.Errorf("edge: create client: %w", err)
	}
	if err := client.Connect(); err != nil {
		d.status = StatusError
		d.lastErr = err
		return fmt.Errorf("edge: client connect: %w", err)
	}
	if err := client.Publish(); err != nil {
		d.status = StatusError
		d.lastErr = err
		return fmt.Errorf("edge: client publish: %w", err)
	}

	d.client = client
	d.status = StatusConnected
	d.metrics.ConnectTime = time.Now()
	d.lastErr = nil
	d.logger.Info("edge forwarder connected")
	return nil
}

// Send queues a packet for this destination, flushing the batch once it
// reaches forwardBatchSize. Script-data packets (AMF metadata on the source
// side) are dropped — the forwarder relays audio/video only.
func (d *Destination) Send(p *packet.Packet) {
	if p.Kind == packet.KindScript {
		return
	}
	d.mu.Lock()
	d.buf = append(d.buf, p)
	flush := len(d.buf) >= forwardBatchSize
	d.mu.Unlock()
	if flush {
		d.Flush()
	}
}

// Flush sends every buffered packet to the destination in order. A send
// failure marks the destination errored and drops the remaining buffered
// packets (the caller is expected to reconnect before sending more).
func (d *Destination) Flush() {
	d.mu.Lock()
	batch := d.buf
	d.buf = nil
	client := d.client
	status := d.status
	d.mu.Unlock()

	if status != StatusConnected || client == nil {
		d.mu.Lock()
		d.metrics.PacketsDropped += uint64(len(batch))
		d.mu.Unlock()
		return
	}

	for _, p := range batch {
		var err error
		switch p.Kind {
		case packet.KindAudio:
			err = client.SendAudio(p.TimestampMs, p.Payload)
		case packet.KindVideo:
			err = client.SendVideo(p.TimestampMs, p.Payload)
		}
		if err != nil {
			d.mu.Lock()
			d.status = StatusError
			d.lastErr = err
			d.metrics.PacketsDropped++
			d.mu.Unlock()
			d.logger.Error("edge forwarder send failed", "error", err)
			return
		}
		d.mu.Lock()
		d.metrics.PacketsSent++
		d.metrics.BytesSent += uint64(len(p.Payload))
		d.metrics.LastSentTime = time.Now()
		d.mu.Unlock()
	}
}

func (d *Destination) Status() DestinationStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Destination) Metrics() DestinationMetrics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.metrics
}

func (d *Destination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	d.status = StatusDisconnected
	return err
}

// Forwarder fans a single LiveSource out to a set of Destinations,
// implementing livesource.Consumer so it can register directly with
// internal/livesource.Source.AddConsumer.
type Forwarder struct {
	mu           sync.RWMutex
	destinations map[string]*Destination
	logger       *slog.Logger
	factory      RTMPClientFactory
}

func NewForwarder(logger *slog.Logger, factory RTMPClientFactory) *Forwarder {
	return &Forwarder{
		destinations: make(map[string]*Destination),
		logger:       logger.With("component", "edge_forwarder"),
		factory:      factory,
	}
}

// AddDestination registers and connects a new push target. Connection
// failure is logged but not fatal — Destination.Connect can be retried
// later by the caller's reconnect loop.
func (f *Forwarder) AddDestination(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.destinations[url]; exists {
		return fmt.Errorf("edge: destination already exists: %s", url)
	}
	dest, err := NewDestination(url, f.logger, f.factory)
	if err != nil {
		return err
	}
	if err := dest.Connect(); err != nil {
		f.logger.Warn("edge forwarder initial connect failed", "url", url, "error", err)
	}
	f.destinations[url] = dest
	return nil
}

// TrySend implements livesource.Consumer: it must never block, so packets
// are merely buffered here and flushed by Destination.Send's batch
// threshold or an explicit FlushAll call.
func (f *Forwarder) TrySend(p *packet.Packet) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, d := range f.destinations {
		d.Send(p)
	}
	return true
}

// FlushAll forces every destination to send its buffered packets now,
// regardless of batch size. Nothing in this package calls it on a schedule:
// packets below the 128-packet threshold stay buffered until a later Send
// fills the batch or a caller invokes FlushAll.
func (f *Forwarder) FlushAll() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, d := range f.destinations {
		d.Flush()
	}
}

func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lastErr error
	for _, d := range f.destinations {
		if err := d.Close(); err != nil {
			lastErr = err
		}
	}
	f.destinations = make(map[string]*Destination)
	return lastErr
}

func (f *Forwarder) DestinationCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.destinations)
}
