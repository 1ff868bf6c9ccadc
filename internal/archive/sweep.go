package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tuna/fishroom/internal/broker"
	"github.com/tuna/fishroom/internal/bus"
)

// Sweep copies every chat-log entry the archive does not have yet and
// reports how many messages it moved. Each day resumes from the highest
// archived position, so repeated sweeps only pay for what is new.
func Sweep(ctx context.Context, client *broker.Client, store Store) (int, error) {
	keys, err := scanLogKeys(ctx, client)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, key := range keys {
		room, date, ok := client.Keys.ParseLog(key)
		if !ok {
			continue
		}
		n, err := sweepDay(ctx, client, store, room, date)
		if err != nil {
			return total, fmt.Errorf("archive: sweep %s/%s: %w", room, date, err)
		}
		total += n
	}
	return total, nil
}

func sweepDay(ctx context.Context, client *broker.Client, store Store, room, date string) (int, error) {
	start := int64(0)
	if max, ok, err := store.MaxID(ctx, room, date); err != nil {
		return 0, err
	} else if ok {
		start = max + 1
	}

	raw, err := client.RDB.LRange(ctx, client.Keys.Log(room, date), start, -1).Result()
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, nil
	}

	entries := make([]Entry, 0, len(raw))
	for i, data := range raw {
		m, err := bus.Decode([]byte(data))
		if err != nil {
			// The position still counts: skipping without recording it
			// would shift every later id and re-copy them next sweep.
			slog.Warn("archive: undecodable log entry",
				"room", room, "date", date, "id", start+int64(i), "error", err)
			continue
		}
		entries = append(entries, Entry{ID: start + int64(i), Msg: m})
	}

	if err := store.SaveBatch(ctx, room, date, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// scanLogKeys walks the keyspace for chat-log lists. SCAN may repeat
// keys across iterations; the map collapses them before sorting.
func scanLogKeys(ctx context.Context, client *broker.Client) ([]string, error) {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		batch, next, err := client.RDB.Scan(ctx, cursor, client.Keys.LogPattern(), 100).Result()
		if err != nil {
			return nil, fmt.Errorf("archive: scan log keys: %w", err)
		}
		for _, k := range batch {
			seen[k] = struct{}{}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// AutoSweep runs Sweep on a fixed interval until ctx is cancelled.
// Failed sweeps are logged and retried next tick; the broker keeps the
// working set either way.
func AutoSweep(ctx context.Context, client *broker.Client, store Store, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("archive: auto sweep started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("archive: auto sweep stopped")
			return nil
		case <-ticker.C:
			n, err := Sweep(ctx, client, store)
			if err != nil {
				slog.Error("archive: sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("archive: swept", "messages", n)
			}
		}
	}
}
