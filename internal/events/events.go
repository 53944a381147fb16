// Package events publishes bus assignment changes to an MQTT broker.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/school-transport/internal/config"
)

// Kind tells subscribers what happened to a student's bus assignment.
type Kind string

const (
	BusAssigned Kind = "assigned"
	BusChanged  Kind = "changed"
	BusRemoved  Kind = "removed"
)

// BusChangeEvent is published after a bus selection commits.
type BusChangeEvent struct {
	Kind            Kind      `json:"kind"`
	TenantID        string    `json:"clientOrganizationId"`
	StudentID       string    `json:"studentId"`
	StudentBusID    string    `json:"studentBusId,omitempty"`
	PreviousBusID   string    `json:"previousBusId,omitempty"`
	PreviousRouteID string    `json:"previousRouteId,omitempty"`
	BusID           string    `json:"busId,omitempty"`
	RouteID         string    `json:"routeId,omitempty"`
	FeesGenerated   int       `json:"feesGenerated"`
	FeesDeactivated int64     `json:"feesDeactivated"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// Publisher delivers bus change events.
type Publisher interface {
	PublishBusChange(event BusChangeEvent) error
	Close()
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishBusChange(BusChangeEvent) error { return nil }
func (NopPublisher) Close()                                {}

// MQTTPublisher publishes events with QoS 1 on <prefix>/<tenant>/student-bus.
type MQTTPublisher struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
}

// NewPublisher connects to the configured broker, or returns a NopPublisher
// when none is set.
func NewPublisher(cfg config.MQTTConfig) (Publisher, error) {
	if cfg.Broker == "" {
		log.Info("MQTT broker not configured, bus change events disabled")
		return NopPublisher{}, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	log.WithField("broker", cfg.Broker).Info("Connected to MQTT broker")
	return newMQTTPublisher(client, cfg.TopicPrefix), nil
}

func newMQTTPublisher(client mqtt.Client, prefix string) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, timeout: 5 * time.Second}
}

// Topic returns the topic events of tenant are published on.
func Topic(prefix, tenant string) string {
	if tenant == "" {
		tenant = "global"
	}
	return fmt.Sprintf("%s/%s/student-bus", prefix, tenant)
}

func (p *MQTTPublisher) PublishBusChange(event BusChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal bus change event: %w", err)
	}

	token := p.client.Publish(Topic(p.prefix, event.TenantID), 1, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish bus change event: timed out")
	}
	return token.Error()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
