package models

// NotificationPreferences holds a profile's alert toggles.
type NotificationPreferences struct {
	SevereAlerts        bool `json:"severeAlerts"`
	DailyForecast       bool `json:"dailyForecast"`
	PrecipitationAlerts bool `json:"precipitationAlerts"`
}

// DefaultNotificationPreferences returns the values used for profiles that never saved anything.
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{
		SevereAlerts:        true,
		DailyForecast:       true,
		PrecipitationAlerts: false,
	}
}

// PreferencesPatch is a partial update; nil fields are left unchanged.
type PreferencesPatch struct {
	SevereAlerts        *bool `json:"severeAlerts,omitempty"`
	DailyForecast       *bool `json:"dailyForecast,omitempty"`
	PrecipitationAlerts *bool `json:"precipitationAlerts,omitempty"`
}

// Apply returns p with the non-nil fields of patch applied.
func (p NotificationPreferences) Apply(patch PreferencesPatch) NotificationPreferences {
	if patch.SevereAlerts != nil {
		p.SevereAlerts = *patch.SevereAlerts
	}
	if patch.DailyForecast != nil {
		p.DailyForecast = *patch.DailyForecast
	}
	if patch.PrecipitationAlerts != nil {
		p.PrecipitationAlerts = *patch.PrecipitationAlerts
	}
	return p
}
