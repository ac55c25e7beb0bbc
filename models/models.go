package models

// All returns every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&Product{},
		&Order{},
		&OrderItem{},
		&License{},
		&Notification{},
		&NotificationLog{},
		&NotificationPreference{},
		&Coupon{},
		&WebhookEvent{},
		&SideEffectFailure{},
		&DownloadLog{},
	}
}
