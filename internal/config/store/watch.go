package store

import (
	"context"
	"database/sql"
	"time"
)

// ChangeEvent reports that the settings table changed since the previous
// poll, together with the marker the next comparison runs against.
type ChangeEvent struct {
	SettingsChanged bool
	Snapshot        string
}

// Watch polls the configuration store for settings changes and emits events
// on the returned channel. The caller must cancel ctx to terminate the
// watcher. The provided interval is clamped to a minimum of 500ms to avoid
// excessive polling.
func (s *Store) Watch(ctx context.Context, interval time.Duration) (<-chan ChangeEvent, error) {
	if s == nil {
		return nil, sql.ErrConnDone
	}

	if interval <= 0 {
		interval = time.Second
	}
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}

	out := make(chan ChangeEvent, 1)

	last, err := s.settingsMarker(ctx)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := s.settingsMarker(ctx)
				if err != nil {
					continue
				}
				if current == last {
					continue
				}
				last = current
				select {
				case out <- ChangeEvent{SettingsChanged: true, Snapshot: current}:
				default:
					// Listener is behind; it sees the change on the next event.
				}
			}
		}
	}()

	return out, nil
}

// settingsMarker builds a cheap comparable fingerprint of the settings
// table for the active instance.
func (s *Store) settingsMarker(ctx context.Context) (string, error) {
	var marker sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) || ':' || COALESCE(MAX(updated_at), '') FROM settings WHERE instance_name = ?`,
		s.instanceName).Scan(&marker)
	if err != nil {
		return "", err
	}
	return marker.String, nil
}
