package worker

import (
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/service"
)

// StartNotificationWorker registers notification handlers and, when a feed
// publisher is configured, relays every change to the realtime channel.
func StartNotificationWorker(notificationService *service.NotificationService, feed *events.RedisFeedPublisher, dispatcher events.Dispatcher) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if feed != nil && dispatcher != nil {
		feed.Register(dispatcher)
	}
}
