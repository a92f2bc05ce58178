package dataset

import (
	"context"
	"fmt"

	"github.com/JakeFAU/rostertrack/internal/tracker"
)

// VersionEvent announces a committed dataset version.
type VersionEvent struct {
	Version int    `json:"version"`
	People  int    `json:"people"`
	Active  int    `json:"active"`
	Path    string `json:"path"`
	RunID   string `json:"run_id,omitempty"`
}

// Notifier publishes a VersionEvent for every committed version.
type Notifier struct {
	publisher tracker.Publisher
	topic     string
	store     *Store
}

// NewNotifier builds a Mirror that announces versions of store on topic.
func NewNotifier(publisher tracker.Publisher, topic string, store *Store) *Notifier {
	return &Notifier{publisher: publisher, topic: topic, store: store}
}

// Mirror publishes the event for version.
func (n *Notifier) Mirror(ctx context.Context, version int, summaries []tracker.PersonSummary) error {
	event := VersionEvent{Version: version, People: len(summaries)}
	for _, s := range summaries {
		if s.Active {
			event.Active++
		}
	}
	if n.store != nil {
		event.Path = n.store.VersionPath(version)
		event.RunID = n.store.cfg.RunID
	}
	if _, err := n.publisher.Publish(ctx, n.topic, event); err != nil {
		return fmt.Errorf("announce version %d: %w", version, err)
	}
	return nil
}
