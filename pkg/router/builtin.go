package router

import "github.com/citygrid/sentinel/pkg/models"

func floatPtr(v float64) *float64 { return &v }

// GunshotDetectionSchema describes events from acoustic gunshot sensors.
func GunshotDetectionSchema() *ChannelSchema {
	return &ChannelSchema{
		Channel:   "gunshot_detection",
		EventType: "gunshot_detected",
		Required:  []string{"location", "timestamp", "confidence"},
		Properties: map[string]*Property{
			"confidence": {Type: "number", Minimum: floatPtr(0), Maximum: floatPtr(1)},
			"timestamp":  {Type: "string"},
			"location":   {Type: "object"},
			"rounds":     {Type: "integer", Minimum: floatPtr(1)},
		},
		DefaultCategory: models.CategoryPublicSafety,
		DefaultPriority: 1,
	}
}

// EmergencyCallSchema describes dispatch events from the emergency call
// intake system.
func EmergencyCallSchema() *ChannelSchema {
	return &ChannelSchema{
		Channel:   "emergency_call",
		EventType: "emergency_call_received",
		Required:  []string{"caller_number", "timestamp"},
		Properties: map[string]*Property{
			"caller_number": {Type: "string"},
			"timestamp":     {Type: "string"},
			"location":      {Type: "object"},
			"severity":      {Type: "string", Enum: []any{"critical", "high", "medium", "low"}},
		},
		DefaultCategory: models.CategoryPublicSafety,
		DefaultPriority: 2,
	}
}

// CityCameraSchema describes analytics alerts from the municipal camera
// network.
func CityCameraSchema() *ChannelSchema {
	return &ChannelSchema{
		Channel:   "city_camera",
		EventType: "camera_alert",
		Required:  []string{"camera_id", "timestamp"},
		Properties: map[string]*Property{
			"camera_id":  {Type: "string"},
			"timestamp":  {Type: "string"},
			"location":   {Type: "object"},
			"alert_type": {Type: "string"},
		},
		DefaultCategory: models.CategoryInfrastructure,
		DefaultPriority: 3,
	}
}
