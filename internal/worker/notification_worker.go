package worker

import (
	"github.com/spec-kit/patient-inbox/internal/service"
)

// StartNotificationWorker registers staff alert handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}
