package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"weatherwatch/internal/storage"
)

// Notification carries the context of a fired alert.
type Notification struct {
	Alert      storage.Alert
	Condition  string
	ThresholdC float64
	Required   int
}

// Notifier delivers a fired alert to one channel.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// NewNotification builds a Notification from the reading that fired an alert.
func NewNotification(reading storage.Reading, threshold float64, required int) Notification {
	return Notification{
		Alert: storage.Alert{
			Location:     reading.Location,
			TemperatureC: reading.TemperatureC,
			ObservedAt:   reading.ObservedAt,
		},
		Condition:  reading.Condition,
		ThresholdC: threshold,
		Required:   required,
	}
}

// LogNotifier writes alerts to the application log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the alert at warn level.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Str("location", note.Alert.Location).
		Float64("temperature_c", note.Alert.TemperatureC).
		Float64("threshold_c", note.ThresholdC).
		Time("observed_at", time.Unix(note.Alert.ObservedAt, 0).UTC()).
		Msgf("Alert! Temperature in %s is %s°C", note.Alert.Location, formatTemp(note.Alert.TemperatureC))
	return nil
}

// TelegramNotifier pushes alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered alert text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("location", note.Alert.Location).Msg("alert delivered to telegram")
	return nil
}

// MultiNotifier fans an alert out to several channels.
type MultiNotifier []Notifier

// Notify delivers to every channel and joins their failures.
func (m MultiNotifier) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Weather Alert]\n")
	builder.WriteString(fmt.Sprintf("Location: %s\n", note.Alert.Location))
	builder.WriteString(fmt.Sprintf("Temperature: %s°C (threshold %s°C)\n", formatTemp(note.Alert.TemperatureC), formatTemp(note.ThresholdC)))
	if note.Condition != "" {
		builder.WriteString(fmt.Sprintf("Condition: %s\n", note.Condition))
	}
	if note.Required > 0 {
		builder.WriteString(fmt.Sprintf("Consecutive readings: %d\n", note.Required))
	}
	builder.WriteString(fmt.Sprintf("Observed: %s UTC\n", time.Unix(note.Alert.ObservedAt, 0).UTC().Format(time.RFC3339)))
	return builder.String()
}

func formatTemp(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(1)
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = MultiNotifier(nil)
)
