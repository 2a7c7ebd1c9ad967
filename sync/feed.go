package sync

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/lib/pq"

	"github.com/moshimoshi/fukushu/internal/errs"
)

const (
	// feedChannel is the NOTIFY channel fed by the notify_fukushu_change
	// triggers on study_list and saved_item.
	feedChannel = "fukushu_changes"

	feedMinReconnect = 10 * time.Second
	feedMaxReconnect = time.Minute
	feedPingInterval = 90 * time.Second
)

// Changes opens the remote-change stream: row changes made by other devices
// or sessions, delivered as they commit. The channel closes when ctx is done
// or the subscription is torn down. When sync is disabled or no feed DSN is
// configured, an already-closed channel is returned so callers can range over
// the result unconditionally.
func (c *Cloud) Changes(ctx context.Context) (<-chan RemoteChange, error) {
	userID, ok := c.syncUser()
	if !ok || c.dsn == "" {
		closed := make(chan RemoteChange)
		close(closed)
		return closed, nil
	}

	listener := pq.NewListener(c.dsn, feedMinReconnect, feedMaxReconnect,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				slog.Warn("change feed connection event",
					slog.Int("event", int(event)),
					slog.String("error", err.Error()))
			}
		})
	if err := listener.Listen(feedChannel); err != nil {
		listener.Close()
		return nil, errs.Unavailable(err, "failed to subscribe to %s", feedChannel)
	}

	out := make(chan RemoteChange, 64)
	go pumpChanges(ctx, listener, userID, out)
	return out, nil
}

// pumpChanges forwards notifications for one account until ctx is done. A
// nil notification marks a reconnect; changes made while disconnected are
// lost, which the next startup FetchAll reconciliation absorbs.
func pumpChanges(ctx context.Context, listener *pq.Listener, userID string, out chan<- RemoteChange) {
	defer close(out)
	defer listener.Close()

	ping := time.NewTicker(feedPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case notification := <-listener.Notify:
			if notification == nil {
				continue
			}
			change := RemoteChange{}
			if err := json.Unmarshal([]byte(notification.Extra), &change); err != nil {
				slog.Warn("dropping malformed change notification",
					slog.String("payload", notification.Extra))
				continue
			}
			if change.UserID != userID {
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				slog.Warn("change feed ping failed", slog.String("error", err.Error()))
			}
		}
	}
}
