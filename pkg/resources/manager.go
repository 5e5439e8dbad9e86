// Package resources tracks typed, located assets and enforces exclusive
// allocation: at most one active allocation per resource at any time.
package resources

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/citygrid/sentinel/pkg/metrics"
	"github.com/citygrid/sentinel/pkg/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the resource id is not registered.
	ErrNotFound = errors.New("resource not found")

	// ErrUnavailable indicates the resource exists but cannot be allocated
	// right now. Callers should treat this as "not currently satisfiable"
	// and may retry or queue.
	ErrUnavailable = errors.New("resource unavailable")

	// ErrNoneAvailable indicates no resource of the requested type is free.
	ErrNoneAvailable = errors.New("no resource of requested type available")
)

// entry pairs a resource with its own lock so contention on one resource
// never serializes allocation of unrelated resources.
type entry struct {
	mu         sync.Mutex
	resource   *models.Resource
	allocation *models.ResourceAllocation
	order      int
}

// Manager is the registry of allocatable resources.
type Manager struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	entries map[string]*entry
	ordered []*entry

	allocations atomic.Int64
	releases    atomic.Int64
	rejections  atomic.Int64
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:  logger.With("module", "resource_manager"),
		entries: make(map[string]*entry),
	}
}

// Register adds a resource to the registry, defaulting its status to
// available. Registering an existing id updates name, location, capabilities
// and health but never touches allocation state.
func (m *Manager) Register(resource *models.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if resource.ID == "" {
		resource.ID = "res-" + uuid.New().String()[:8]
	}

	if existing, ok := m.entries[resource.ID]; ok {
		existing.mu.Lock()
		existing.resource.Name = resource.Name
		existing.resource.Location = resource.Location
		existing.resource.Capabilities = resource.Capabilities
		existing.resource.HealthScore = resource.HealthScore
		existing.mu.Unlock()

		return
	}

	if resource.Status == "" {
		resource.Status = models.ResourceAvailable
	}

	resource.RegisteredAt = time.Now().UTC()

	e := &entry{resource: resource, order: len(m.ordered)}
	m.entries[resource.ID] = e
	m.ordered = append(m.ordered, e)

	m.logger.Info("Registered resource",
		"resource_id", resource.ID, "type", resource.Type, "name", resource.Name)
}

// Get returns a copy of the resource, or ErrNotFound.
func (m *Manager) Get(resourceID string) (*models.Resource, error) {
	m.mu.RLock()
	e, ok := m.entries[resourceID]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, resourceID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copied := *e.resource

	return &copied, nil
}

// Available lists resources of the given type that are currently free, in
// registration order.
func (m *Manager) Available(resourceType models.ResourceType) []*models.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var available []*models.Resource

	for _, e := range m.ordered {
		e.mu.Lock()

		if e.resource.Type == resourceType && e.resource.Status == models.ResourceAvailable {
			copied := *e.resource
			available = append(available, &copied)
		}

		e.mu.Unlock()
	}

	return available
}

// Allocate atomically transitions an available resource to allocated and
// creates the allocation record. Two simultaneous calls for the same
// resource can never both succeed: the check-and-set happens under the
// per-resource lock.
func (m *Manager) Allocate(resourceID, workflowID, requester string, priority int, purpose string, durationMinutes int) (*models.ResourceAllocation, error) {
	m.mu.RLock()
	e, ok := m.entries[resourceID]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, resourceID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.allocation != nil || e.resource.Status != models.ResourceAvailable {
		m.rejections.Add(1)

		return nil, fmt.Errorf("%w: %s is %s", ErrUnavailable, resourceID, e.resource.Status)
	}

	allocation := &models.ResourceAllocation{
		ID:         "alloc-" + uuid.New().String()[:8],
		ResourceID: resourceID,
		WorkflowID: workflowID,
		Requester:  requester,
		Priority:   priority,
		Purpose:    purpose,
		StartedAt:  time.Now().UTC(),
		Duration:   time.Duration(durationMinutes) * time.Minute,
	}

	e.allocation = allocation
	e.resource.Status = models.ResourceAllocated

	m.allocations.Add(1)

	metrics.AllocatedResources.Inc()
	m.logger.Info("Allocated resource",
		"resource_id", resourceID, "workflow_id", workflowID,
		"requester", requester, "purpose", purpose)

	copied := *allocation

	return &copied, nil
}

// AllocateNearest picks the closest available resource of the given type to
// the location and allocates it. Without a location it takes the first
// available in registration order.
func (m *Manager) AllocateNearest(resourceType models.ResourceType, location *models.Location, workflowID, requester string, priority int, purpose string, durationMinutes int) (*models.ResourceAllocation, error) {
	for {
		var candidate *models.Resource

		if location != nil {
			candidate = m.Nearest(resourceType, location.Latitude, location.Longitude)
		} else if available := m.Available(resourceType); len(available) > 0 {
			candidate = available[0]
		}

		if candidate == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoneAvailable, resourceType)
		}

		allocation, err := m.Allocate(candidate.ID, workflowID, requester, priority, purpose, durationMinutes)
		if err == nil {
			return allocation, nil
		}

		// Lost the race for this candidate; try the next one.
		if errors.Is(err, ErrUnavailable) {
			continue
		}

		return nil, err
	}
}

// Release clears the active allocation and returns the resource to
// available. Returns false when no active allocation exists.
func (m *Manager) Release(resourceID string) bool {
	m.mu.RLock()
	e, ok := m.entries[resourceID]
	m.mu.RUnlock()

	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.allocation == nil {
		return false
	}

	e.allocation = nil
	e.resource.Status = models.ResourceAvailable

	m.releases.Add(1)

	metrics.AllocatedResources.Dec()
	m.logger.Info("Released resource", "resource_id", resourceID)

	return true
}

// Nearest returns the available resource of the given type with the minimum
// great-circle distance to (lat, lng). Ties break by registration order; nil
// when none is available.
func (m *Manager) Nearest(resourceType models.ResourceType, lat, lng float64) *models.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best     *models.Resource
		bestDist = math.MaxFloat64
	)

	for _, e := range m.ordered {
		e.mu.Lock()

		if e.resource.Type == resourceType &&
			e.resource.Status == models.ResourceAvailable &&
			e.resource.Location != nil {
			dist := haversineKm(lat, lng, e.resource.Location.Latitude, e.resource.Location.Longitude)
			if dist < bestDist {
				copied := *e.resource
				best = &copied
				bestDist = dist
			}
		}

		e.mu.Unlock()
	}

	return best
}

// Allocation returns the active allocation for a resource, or nil.
func (m *Manager) Allocation(resourceID string) *models.ResourceAllocation {
	m.mu.RLock()
	e, ok := m.entries[resourceID]
	m.mu.RUnlock()

	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.allocation == nil {
		return nil
	}

	copied := *e.allocation

	return &copied
}

// Utilization summarizes registry state per resource type.
type Utilization struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Allocated int `json:"allocated"`
	Offline   int `json:"offline"`
}

// Statistics reports counters and per-type utilization.
type Statistics struct {
	Allocations int64                              `json:"allocations"`
	Releases    int64                              `json:"releases"`
	Rejections  int64                              `json:"rejections"`
	ByType      map[models.ResourceType]Utilization `json:"by_type"`
}

func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[models.ResourceType]Utilization)

	for _, e := range m.ordered {
		e.mu.Lock()

		u := byType[e.resource.Type]
		u.Total++

		switch e.resource.Status {
		case models.ResourceAvailable:
			u.Available++
		case models.ResourceAllocated, models.ResourceInUse:
			u.Allocated++
		case models.ResourceMaintenance, models.ResourceOffline:
			u.Offline++
		}

		byType[e.resource.Type] = u

		e.mu.Unlock()
	}

	return Statistics{
		Allocations: m.allocations.Load(),
		Releases:    m.releases.Load(),
		Rejections:  m.rejections.Load(),
		ByType:      byType,
	}
}

// All returns copies of every registered resource in registration order.
func (m *Manager) All() []*models.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*models.Resource, 0, len(m.ordered))

	for _, e := range m.ordered {
		e.mu.Lock()
		copied := *e.resource
		all = append(all, &copied)
		e.mu.Unlock()
	}

	return all
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
