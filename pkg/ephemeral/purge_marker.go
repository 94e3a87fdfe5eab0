package ephemeral

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/ambientscribe/pkg/kvstore"
)

const (
	DefaultPurgeMarkerKey = "ephemeral_purge_marker"
)

// PurgeMarker is the only part of a session that reaches durable storage.
// It must never contain transcript content.
type PurgeMarker struct {
	SessionID      string
	StartTimestamp time.Time
}

type purgeMarkerRecord struct {
	SessionID         string `yaml:"session_id"`
	StartUnixNanoTime int64  `yaml:"start_unix_nano"`
}

func (m PurgeMarker) String() string {
	return fmt.Sprintf("%s@%s", m.SessionID, m.StartTimestamp.Format(time.RFC3339Nano))
}

func writePurgeMarker(
	ctx context.Context,
	store kvstore.Store,
	key string,
	marker PurgeMarker,
) error {
	record := purgeMarkerRecord{
		SessionID:         marker.SessionID,
		StartUnixNanoTime: marker.StartTimestamp.UnixNano(),
	}
	if err := store.Put(ctx, key, record); err != nil {
		return fmt.Errorf("unable to write the purge marker for session '%s': %w", marker.SessionID, err)
	}
	return nil
}

func readPurgeMarker(
	ctx context.Context,
	store kvstore.Store,
	key string,
) (*PurgeMarker, error) {
	var record purgeMarkerRecord
	ok, err := store.Get(ctx, key, &record)
	if err != nil {
		return nil, fmt.Errorf("unable to read the purge marker: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &PurgeMarker{
		SessionID:      record.SessionID,
		StartTimestamp: time.Unix(0, record.StartUnixNanoTime),
	}, nil
}

func clearPurgeMarker(
	ctx context.Context,
	store kvstore.Store,
	key string,
) error {
	if err := store.Delete(ctx, key); err != nil {
		return fmt.Errorf("unable to clear the purge marker: %w", err)
	}
	return nil
}
