// Package logbook forwards sweep outcomes to the Home Assistant logbook
// service, decoupled from the process's own log stream.
package logbook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jhendriks/go-price-tracker/config"
	"github.com/jhendriks/go-price-tracker/models"
)

const defaultAPIURL = "http://supervisor/core/api"

type entry struct {
	Name     string `json:"name"`
	Message  string `json:"message"`
	EntityID string `json:"entity_id,omitempty"`
}

// Notifier posts logbook entries through the supervisor API. Emission
// failures are logged and never propagate into the sweep path.
type Notifier struct {
	client       *http.Client
	apiURL       string
	token        string
	name         string
	entityID     string
	minLevel     slog.Level
	includeLevel bool
	log          *slog.Logger
}

// New builds a notifier from the logbook options. It returns nil when
// the sink is disabled or the supervisor token is unavailable; a nil
// notifier is simply not registered with the monitor.
func New(cfg config.Logbook, productName string) *Notifier {
	if !cfg.Enabled {
		return nil
	}
	token := os.Getenv("SUPERVISOR_TOKEN")
	if token == "" {
		slog.Warn("logbook notifications requested but SUPERVISOR_TOKEN is not set")
		return nil
	}
	apiURL := os.Getenv("HOME_ASSISTANT_API")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return newNotifier(cfg, productName, apiURL, token)
}

func newNotifier(cfg config.Logbook, productName, apiURL, token string) *Notifier {
	name := cfg.Name
	if name == "" {
		name = productName
	}
	return &Notifier{
		client:       &http.Client{Timeout: 5 * time.Second},
		apiURL:       strings.TrimRight(apiURL, "/"),
		token:        token,
		name:         name,
		entityID:     cfg.EntityID,
		minLevel:     parseLevel(cfg.Level),
		includeLevel: cfg.IncludeLevel,
		log:          slog.With(slog.String("component", "logbook")),
	}
}

// SweepCompleted emits one entry per reading at a severity matching the
// outcome, subject to the configured minimum level.
func (n *Notifier) SweepCompleted(result models.SweepResult) {
	for _, r := range result.Readings {
		if r.OK() {
			n.Emit(slog.LevelInfo, fmt.Sprintf("%s: price %.2f %s", r.Title, r.Price, r.Currency))
			continue
		}
		n.Emit(slog.LevelWarn, fmt.Sprintf("%s: unavailable (%s)", r.Title, r.Failure))
	}
}

// Emit posts a single logbook entry when level clears the minimum.
func (n *Notifier) Emit(level slog.Level, message string) {
	if level < n.minLevel {
		return
	}
	if n.includeLevel {
		message = fmt.Sprintf("[%s] %s", level.String(), message)
	}

	payload, err := json.Marshal(entry{
		Name:     n.name,
		Message:  message,
		EntityID: n.entityID,
	})
	if err != nil {
		n.log.Error("encode logbook entry", slog.Any("error", err))
		return
	}

	req, err := http.NewRequest(http.MethodPost, n.apiURL+"/services/logbook/log", bytes.NewReader(payload))
	if err != nil {
		n.log.Error("build logbook request", slog.Any("error", err))
		return
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("logbook emission failed", slog.Any("error", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		n.log.Warn("logbook emission rejected", slog.Int("status", resp.StatusCode))
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "", "info":
		return slog.LevelInfo
	case "warning", "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
