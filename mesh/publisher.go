package mesh

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ScanProgress is the retained progress message for a running scan
type ScanProgress struct {
	SessionID  string   `json:"session"`
	FrameIndex int      `json:"frame"`
	Target     int      `json:"target"`
	Records    int      `json:"records"`
	Points     int      `json:"points"`
	AngleDeg   *float64 `json:"angleDeg,omitempty"`
	OffsetMM   *float64 `json:"offsetMm,omitempty"`
	State      string   `json:"state"`
	Timestamp  int64    `json:"timestamp"`
}

// Publisher publishes scan progress and finished records to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	last          *ScanProgress
	published     int
	mu            sync.RWMutex
}

// NewPublisher creates a new scan publisher
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = "stripemesh"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // QoS 0 for progress (fire and forget)
		retain:        true, // Retain for latest progress
	}
}

// SetPrefix overrides the topic prefix
func (p *Publisher) SetPrefix(prefix string) {
	if prefix == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishPrefix = prefix
}

// Prefix returns the topic prefix
func (p *Publisher) Prefix() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.publishPrefix
}

// PublishProgress publishes to {prefix}/progress
func (p *Publisher) PublishProgress(progress ScanProgress) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if progress.Timestamp == 0 {
		progress.Timestamp = time.Now().Unix()
	}

	p.mu.Lock()
	p.last = &progress
	retain := p.retain
	p.mu.Unlock()

	if err := p.publishJSON("progress", progress, retain); err != nil {
		log.Printf("Error publishing scan progress: %v", err)
		return err
	}
	return nil
}

// PublishRecord publishes a finished frame to {prefix}/records. Records are
// never retained.
func (p *Publisher) PublishRecord(rec ScanRecord) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if err := p.publishJSON("records", rec, false); err != nil {
		log.Printf("Error publishing record %d: %v", rec.FrameIndex, err)
		return err
	}
	return nil
}

func (p *Publisher) publishJSON(suffix string, v interface{}, retain bool) error {
	topic := fmt.Sprintf("%s/%s", p.Prefix(), suffix)

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", suffix, err)
	}

	p.mu.RLock()
	qos := p.qos
	p.mu.RUnlock()

	token := p.client.Publish(topic, qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

// LastProgress returns the most recently published progress
func (p *Publisher) LastProgress() (ScanProgress, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return ScanProgress{}, false
	}
	return *p.last, true
}

// Published returns how many messages were accepted by the client
func (p *Publisher) Published() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.mu.Lock()
		p.qos = qos
		p.mu.Unlock()
	}
}

// SetRetain sets whether progress messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retain = retain
}

// ProgressHook adapts the publisher to the scanner's per-frame hook.
// Publish errors are logged and never stop the scan.
func (p *Publisher) ProgressHook(target int) FrameHook {
	return func(ev FrameEvent) {
		progress := ScanProgress{
			SessionID:  ev.SessionID,
			FrameIndex: ev.FrameIndex,
			Target:     target,
			Records:    ev.Records,
			Points:     ev.Points,
			AngleDeg:   ev.Pose.AngleDeg,
			OffsetMM:   ev.Pose.LinearOffsetMM,
			State:      ev.Outcome,
		}
		_ = p.PublishProgress(progress)
		if ev.Record != nil {
			_ = p.PublishRecord(*ev.Record)
		}
	}
}
