// Package publisher emits discovery and state messages for price
// readings over MQTT, and wires the refresh-button command topic back to
// the sweep trigger.
package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jhendriks/go-price-tracker/config"
	"github.com/jhendriks/go-price-tracker/models"
	"github.com/jhendriks/go-price-tracker/scraper"
)

// publishTimeout bounds the wait for a single publish attempt. Readings
// are published at most once; a timed-out attempt is not retried.
const publishTimeout = 5 * time.Second

const discoveryCacheSize = 512

// Client is the slice of the paho client the publisher needs. The
// concrete mqtt.Client satisfies it.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

type device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

type sensorDiscovery struct {
	Name                string `json:"name"`
	UniqueID            string `json:"unique_id"`
	StateTopic          string `json:"state_topic"`
	JSONAttributesTopic string `json:"json_attributes_topic"`
	DeviceClass         string `json:"device_class"`
	StateClass          string `json:"state_class"`
	UnitOfMeasurement   string `json:"unit_of_measurement"`
	ValueTemplate       string `json:"value_template"`
	Device              device `json:"device"`
}

type buttonDiscovery struct {
	Name           string `json:"name"`
	UniqueID       string `json:"unique_id"`
	CommandTopic   string `json:"command_topic"`
	PayloadPress   string `json:"payload_press"`
	Icon           string `json:"icon"`
	EntityCategory string `json:"entity_category"`
	Device         device `json:"device"`
}

type statePayload struct {
	Price *float64 `json:"price"`
}

type attrPayload struct {
	Title        string `json:"title,omitempty"`
	URL          string `json:"url,omitempty"`
	Currency     string `json:"currency,omitempty"`
	SourceMethod string `json:"source_method,omitempty"`
	StatusCode   int    `json:"status_code,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Publisher turns sweep results into MQTT discovery and state messages.
// Discovery records are retained and de-duplicated: a site is registered
// once per process lifetime unless its metadata changes.
type Publisher struct {
	client  Client
	raw     mqtt.Client
	cfg     *config.Config
	metrics *scraper.Metrics
	device  device
	log     *slog.Logger

	discovered *lru.Cache[string, string]
}

// New builds a publisher on an established client. Used directly by
// tests; production code goes through Connect.
func New(client Client, cfg *config.Config, metrics *scraper.Metrics) *Publisher {
	cache, err := lru.New[string, string](discoveryCacheSize)
	if err != nil {
		// Only reachable with a non-positive size.
		panic(err)
	}
	return &Publisher{
		client:  client,
		cfg:     cfg,
		metrics: metrics,
		device: device{
			Identifiers:  []string{cfg.BaseTopic + "_addon"},
			Name:         cfg.ProductName,
			Manufacturer: "Custom",
			Model:        "Home Assistant Add-on",
		},
		log:        slog.With(slog.String("component", "publisher")),
		discovered: cache,
	}
}

// Connect dials the broker and returns a publisher bound to the shared
// connection. onRefresh is invoked from the broker's callback goroutine
// for every press of the refresh button; it must not block.
func Connect(cfg *config.Config, metrics *scraper.Metrics, onRefresh func()) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTHost, cfg.MQTTPort)).
		SetClientID(cfg.BaseTopic + "_addon").
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	// Subscriptions do not survive a reconnect, so the refresh listener
	// is re-established from the connect handler.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		slog.Info("connected to MQTT broker",
			slog.String("host", cfg.MQTTHost),
			slog.Int("port", cfg.MQTTPort),
		)
		subscribeRefresh(c, cfg.BaseTopic, onRefresh)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", slog.Any("error", err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to mqtt broker %s:%d: timeout", cfg.MQTTHost, cfg.MQTTPort)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s:%d: %w", cfg.MQTTHost, cfg.MQTTPort, err)
	}

	p := New(client, cfg, metrics)
	p.raw = client
	return p, nil
}

// Disconnect quiesces the shared broker connection.
func (p *Publisher) Disconnect() {
	if p.raw != nil {
		p.raw.Disconnect(250)
	}
}

// subscribeRefresh wires the command topic to the sweep trigger. The
// callback runs on the client's receive goroutine; the handoff into the
// sweep loop happens inside onRefresh.
func subscribeRefresh(c Client, baseTopic string, onRefresh func()) {
	topic := commandTopic(baseTopic)
	token := c.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		payload := strings.TrimSpace(string(msg.Payload()))
		slog.Info("refresh command received", slog.String("payload", payload))
		onRefresh()
	})
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		slog.Error("failed to subscribe to refresh command topic",
			slog.String("topic", topic),
			slog.Any("error", token.Error()),
		)
		return
	}
	slog.Debug("subscribed to refresh command topic", slog.String("topic", topic))
}

// PublishReadings emits discovery (first sighting or changed metadata)
// and state for every reading of a sweep. Transport failures are logged
// and do not abort the remaining readings.
func (p *Publisher) PublishReadings(readings []models.Reading) {
	for _, r := range readings {
		p.ensureDiscovery(r.SiteID)
		if r.OK() {
			price := r.Price
			p.publish(p.stateTopic(r.SiteID), 0, false, statePayload{Price: &price})
			p.publish(p.attrTopic(r.SiteID), 0, false, attrPayload{
				Title:        r.Title,
				URL:          r.URL,
				Currency:     r.Currency,
				SourceMethod: r.Method,
				StatusCode:   r.StatusCode,
			})
			continue
		}
		p.log.Warn("publishing unavailable state",
			slog.String("site", r.SiteID),
			slog.String("error", r.Failure),
		)
		p.publish(p.stateTopic(r.SiteID), 0, false, statePayload{})
		p.publish(p.attrTopic(r.SiteID), 0, false, attrPayload{
			URL:        r.URL,
			StatusCode: r.StatusCode,
			Error:      r.Failure,
		})
	}
}

// PublishRefreshButton registers the manual refresh control. Retained
// and idempotent; published once at startup.
func (p *Publisher) PublishRefreshButton() {
	topic := fmt.Sprintf("homeassistant/button/%s/refresh/config", p.cfg.BaseTopic)
	p.publish(topic, 1, true, buttonDiscovery{
		Name:           p.cfg.ProductName + " Refresh",
		UniqueID:       p.cfg.BaseTopic + "_refresh_button",
		CommandTopic:   commandTopic(p.cfg.BaseTopic),
		PayloadPress:   "PRESS",
		Icon:           "mdi:update",
		EntityCategory: "config",
		Device:         p.device,
	})
}

// ensureDiscovery publishes the retained sensor registration for a site
// unless an identical payload was already sent this process lifetime.
func (p *Publisher) ensureDiscovery(siteID string) {
	site, ok := p.siteByID(siteID)
	if !ok {
		return
	}

	payload := sensorDiscovery{
		Name:                p.cfg.ProductName + " " + site.DisplayName(),
		UniqueID:            strings.ToLower(p.cfg.BaseTopic + "_" + site.ID),
		StateTopic:          p.stateTopic(site.ID),
		JSONAttributesTopic: p.attrTopic(site.ID),
		DeviceClass:         "monetary",
		StateClass:          "measurement",
		UnitOfMeasurement:   "€",
		ValueTemplate:       "{{ value_json.price }}",
		Device:              p.device,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("encode discovery payload", slog.Any("error", err))
		return
	}
	if previous, ok := p.discovered.Get(site.ID); ok && previous == string(encoded) {
		return
	}

	topic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", p.cfg.BaseTopic, site.ID)
	p.log.Debug("publishing discovery payload",
		slog.String("site", site.ID),
		slog.String("topic", topic),
	)
	if p.publish(topic, 1, true, payload) {
		p.discovered.Add(site.ID, string(encoded))
	}
}

func (p *Publisher) publish(topic string, qos byte, retained bool, v interface{}) bool {
	encoded, err := json.Marshal(v)
	if err != nil {
		p.log.Error("encode payload", slog.String("topic", topic), slog.Any("error", err))
		return false
	}

	token := p.client.Publish(topic, qos, retained, encoded)
	if !token.WaitTimeout(publishTimeout) {
		p.log.Error("publish timed out", slog.String("topic", topic))
		p.metrics.IncPublishError()
		return false
	}
	if err := token.Error(); err != nil {
		p.log.Error("publish failed", slog.String("topic", topic), slog.Any("error", err))
		p.metrics.IncPublishError()
		return false
	}
	return true
}

func (p *Publisher) siteByID(id string) (config.Site, bool) {
	for _, site := range p.cfg.Sites {
		if site.ID == id {
			return site, true
		}
	}
	return config.Site{}, false
}

func (p *Publisher) stateTopic(siteID string) string {
	return fmt.Sprintf("%s/%s/state", p.cfg.BaseTopic, siteID)
}

func (p *Publisher) attrTopic(siteID string) string {
	return fmt.Sprintf("%s/%s/attributes", p.cfg.BaseTopic, siteID)
}

func commandTopic(baseTopic string) string {
	return baseTopic + "/command/refresh"
}
