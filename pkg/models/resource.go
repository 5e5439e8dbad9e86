package models

import "time"

// ResourceType is the closed set of allocatable asset kinds.
type ResourceType string

const (
	ResourceDrone        ResourceType = "drone"
	ResourceRobot        ResourceType = "robot"
	ResourceDispatchUnit ResourceType = "dispatch_unit"
	ResourceOfficer      ResourceType = "officer"
	ResourceVehicle      ResourceType = "vehicle"
	ResourceSensor       ResourceType = "sensor"
)

// ResourceStatus tracks availability. Only the resource manager mutates it.
type ResourceStatus string

const (
	ResourceAvailable   ResourceStatus = "available"
	ResourceAllocated   ResourceStatus = "allocated"
	ResourceInUse       ResourceStatus = "in_use"
	ResourceMaintenance ResourceStatus = "maintenance"
	ResourceOffline     ResourceStatus = "offline"
)

// Resource is a finite, typed, locatable asset. At most one allocation may
// hold it at any time.
type Resource struct {
	ID           string         `json:"id"`
	Type         ResourceType   `json:"type"     validate:"required"`
	Name         string         `json:"name"     validate:"required"`
	Status       ResourceStatus `json:"status"`
	Location     *Location      `json:"location,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	HealthScore  float64        `json:"health_score"`
	RegisteredAt time.Time      `json:"registered_at"`
}

// ResourceAllocation records exclusive use of a resource by one workflow
// execution.
type ResourceAllocation struct {
	ID         string       `json:"id"`
	ResourceID string       `json:"resource_id"`
	WorkflowID string       `json:"workflow_id"`
	Requester  string       `json:"requester"`
	Priority   int          `json:"priority"`
	Purpose    string       `json:"purpose"`
	StartedAt  time.Time    `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// ExpiresAt is the nominal end of the allocation window.
func (a *ResourceAllocation) ExpiresAt() time.Time {
	return a.StartedAt.Add(a.Duration)
}
