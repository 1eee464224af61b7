package realtime

import (
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
)

// NotifierConfig configures a Notifier.
type NotifierConfig struct {
	Manager      ManagerConfig
	FeedCapacity int
	// OnNotify runs for every notification that made it into the feed.
	OnNotify func(Notification)
}

// Notifier is the client side of the change feed: it keeps a subscription
// alive and folds incoming events into a bounded feed.
type Notifier struct {
	feed     *Feed
	manager  *Manager
	onNotify func(Notification)
}

// NewNotifier builds a notifier for localActorID. Nothing is dialed until
// Start.
func NewNotifier(dialer Dialer, localActorID string, cfg NotifierConfig) *Notifier {
	n := &Notifier{
		feed:     NewFeed(cfg.FeedCapacity, localActorID),
		onNotify: cfg.OnNotify,
	}
	n.manager = NewManager(dialer, n.receive, cfg.Manager)
	return n
}

func (n *Notifier) receive(event events.Event) {
	note, ok := n.feed.Add(event)
	if ok && n.onNotify != nil {
		n.onNotify(note)
	}
}

// Start opens the subscription.
func (n *Notifier) Start() error { return n.manager.Start() }

// Retry reconnects after the retry budget was exhausted.
func (n *Notifier) Retry() error { return n.manager.Retry() }

// Close disposes the subscription. The feed stays readable.
func (n *Notifier) Close() { n.manager.Close() }

// Feed returns the notification feed.
func (n *Notifier) Feed() *Feed { return n.feed }

// State returns the subscription state.
func (n *Notifier) State() ConnState { return n.manager.State() }
