package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Setting keys recognised by previewd.
const (
	KeyListenAddr     = "server.listen_addr"
	KeyProcessorURL   = "reconcile.processor_url"
	KeyJPEGQuality    = "imaging.jpeg_quality"
	KeyMaxPreviewSize = "imaging.max_preview_size"
	KeyDebounceWindow = "preview.debounce_window"
	KeyDragInterval   = "preview.drag_interval"
	KeyThrottleWindow = "reconcile.throttle_window"
)

// PreviewSettings is the typed view over the settings table. Zero values
// mean "unset"; callers apply their own defaults.
type PreviewSettings struct {
	ListenAddr     string
	ProcessorURL   string
	JPEGQuality    int
	MaxPreviewSize int
	DebounceWindow time.Duration
	DragInterval   time.Duration
	ThrottleWindow time.Duration
}

// LoadSettings returns key/value settings for the active instance.
// Optional keys limit the selection to specific entries.
func (s *Store) LoadSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	query := `SELECT key, value FROM settings WHERE instance_name = ?`
	args := []any{s.instanceName}

	if len(keys) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(keys)), ",")
		query += fmt.Sprintf(" AND key IN (%s)", placeholders)
		for _, key := range keys {
			args = append(args, key)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("config: load settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("config: scan settings row: %w", err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate settings rows: %w", err)
	}

	return result, nil
}

// SaveSettings upserts the provided key/value pairs for the active instance.
func (s *Store) SaveSettings(ctx context.Context, values map[string]string) error {
	if s.readOnly {
		return fmt.Errorf("config: save settings: store opened read-only")
	}
	if len(values) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO settings (instance_name, key, value, updated_at)
            VALUES (?, ?, ?, CURRENT_TIMESTAMP)
            ON CONFLICT(instance_name, key) DO UPDATE SET
                value = excluded.value,
                updated_at = CURRENT_TIMESTAMP
        `)
		if err != nil {
			return fmt.Errorf("config: prepare save settings: %w", err)
		}
		defer stmt.Close()

		for key, value := range values {
			if _, err := stmt.ExecContext(ctx, s.instanceName, key, value); err != nil {
				return fmt.Errorf("config: exec save setting %q: %w", key, err)
			}
		}
		return nil
	})
}

// PreviewSettings loads the typed settings view. Unparseable values are
// reported as errors rather than silently dropped.
func (s *Store) PreviewSettings(ctx context.Context) (PreviewSettings, error) {
	raw, err := s.LoadSettings(ctx,
		KeyListenAddr, KeyProcessorURL, KeyJPEGQuality, KeyMaxPreviewSize,
		KeyDebounceWindow, KeyDragInterval, KeyThrottleWindow)
	if err != nil {
		return PreviewSettings{}, err
	}

	out := PreviewSettings{
		ListenAddr:   raw[KeyListenAddr],
		ProcessorURL: raw[KeyProcessorURL],
	}
	if out.JPEGQuality, err = parseIntSetting(raw, KeyJPEGQuality); err != nil {
		return PreviewSettings{}, err
	}
	if out.MaxPreviewSize, err = parseIntSetting(raw, KeyMaxPreviewSize); err != nil {
		return PreviewSettings{}, err
	}
	if out.DebounceWindow, err = parseDurationSetting(raw, KeyDebounceWindow); err != nil {
		return PreviewSettings{}, err
	}
	if out.DragInterval, err = parseDurationSetting(raw, KeyDragInterval); err != nil {
		return PreviewSettings{}, err
	}
	if out.ThrottleWindow, err = parseDurationSetting(raw, KeyThrottleWindow); err != nil {
		return PreviewSettings{}, err
	}
	return out, nil
}

// SavePreviewSettings persists the non-zero fields of the typed view.
func (s *Store) SavePreviewSettings(ctx context.Context, settings PreviewSettings) error {
	values := make(map[string]string)
	if settings.ListenAddr != "" {
		values[KeyListenAddr] = settings.ListenAddr
	}
	if settings.ProcessorURL != "" {
		values[KeyProcessorURL] = settings.ProcessorURL
	}
	if settings.JPEGQuality != 0 {
		values[KeyJPEGQuality] = strconv.Itoa(settings.JPEGQuality)
	}
	if settings.MaxPreviewSize != 0 {
		values[KeyMaxPreviewSize] = strconv.Itoa(settings.MaxPreviewSize)
	}
	if settings.DebounceWindow != 0 {
		values[KeyDebounceWindow] = settings.DebounceWindow.String()
	}
	if settings.DragInterval != 0 {
		values[KeyDragInterval] = settings.DragInterval.String()
	}
	if settings.ThrottleWindow != 0 {
		values[KeyThrottleWindow] = settings.ThrottleWindow.String()
	}
	return s.SaveSettings(ctx, values)
}

func parseIntSetting(raw map[string]string, key string) (int, error) {
	value, ok := raw[key]
	if !ok || value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: setting %q: %w", key, err)
	}
	return n, nil
}

func parseDurationSetting(raw map[string]string, key string) (time.Duration, error) {
	value, ok := raw[key]
	if !ok || value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: setting %q: %w", key, err)
	}
	return d, nil
}
