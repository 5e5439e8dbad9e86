package resources

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/citygrid/sentinel/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func drone(id string, lat, lng float64) *models.Resource {
	return &models.Resource{
		ID:          id,
		Type:        models.ResourceDrone,
		Name:        "Drone " + id,
		Location:    &models.Location{Latitude: lat, Longitude: lng},
		HealthScore: 1,
	}
}

func TestRegisterDefaultsStatusAndID(t *testing.T) {
	manager := NewManager(testLogger())

	resource := &models.Resource{Type: models.ResourceDrone, Name: "Unnamed"}
	manager.Register(resource)

	require.NotEmpty(t, resource.ID)

	stored, err := manager.Get(resource.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResourceAvailable, stored.Status)
	assert.False(t, stored.RegisteredAt.IsZero())
}

func TestGetUnknownResource(t *testing.T) {
	manager := NewManager(testLogger())

	_, err := manager.Get("res-missing")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAllocateIsExclusive(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(drone("drone-1", 41.88, -87.63))

	allocation, err := manager.Allocate("drone-1", "wf-1", "kernel", 1, "overwatch", 30)
	require.NoError(t, err)
	assert.Equal(t, "drone-1", allocation.ResourceID)
	assert.Equal(t, "wf-1", allocation.WorkflowID)

	stored, err := manager.Get("drone-1")
	require.NoError(t, err)
	assert.Equal(t, models.ResourceAllocated, stored.Status)

	_, err = manager.Allocate("drone-1", "wf-2", "kernel", 1, "overwatch", 30)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestConcurrentAllocationSingleWinner(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(drone("drone-1", 41.88, -87.63))

	const contenders = 20

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for i := 0; i < contenders; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := manager.Allocate("drone-1", "wf-1", "kernel", 1, "race", 5); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, int64(contenders-1), manager.Statistics().Rejections)
}

func TestReleaseReturnsResourceToPool(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(drone("drone-1", 41.88, -87.63))

	_, err := manager.Allocate("drone-1", "wf-1", "kernel", 1, "overwatch", 30)
	require.NoError(t, err)

	assert.True(t, manager.Release("drone-1"))
	assert.False(t, manager.Release("drone-1"))
	assert.False(t, manager.Release("res-missing"))

	stored, err := manager.Get("drone-1")
	require.NoError(t, err)
	assert.Equal(t, models.ResourceAvailable, stored.Status)
	assert.Nil(t, manager.Allocation("drone-1"))

	_, err = manager.Allocate("drone-1", "wf-2", "kernel", 1, "overwatch", 30)
	assert.NoError(t, err)
}

func TestNearestPicksClosestAvailable(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(drone("drone-far", 42.30, -88.00))
	manager.Register(drone("drone-near", 41.89, -87.62))

	nearest := manager.Nearest(models.ResourceDrone, 41.88, -87.63)

	require.NotNil(t, nearest)
	assert.Equal(t, "drone-near", nearest.ID)
}

func TestAllocateNearestSkipsAllocatedResources(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(drone("drone-far", 42.30, -88.00))
	manager.Register(drone("drone-near", 41.89, -87.62))

	incident := &models.Location{Latitude: 41.88, Longitude: -87.63}

	first, err := manager.AllocateNearest(models.ResourceDrone, incident, "wf-1", "kernel", 1, "overwatch", 30)
	require.NoError(t, err)
	assert.Equal(t, "drone-near", first.ResourceID)

	second, err := manager.AllocateNearest(models.ResourceDrone, incident, "wf-2", "kernel", 1, "overwatch", 30)
	require.NoError(t, err)
	assert.Equal(t, "drone-far", second.ResourceID)

	_, err = manager.AllocateNearest(models.ResourceDrone, incident, "wf-3", "kernel", 1, "overwatch", 30)
	assert.ErrorIs(t, err, ErrNoneAvailable)
}

func TestAllocateNearestWithoutLocation(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(drone("drone-1", 41.88, -87.63))

	allocation, err := manager.AllocateNearest(models.ResourceDrone, nil, "wf-1", "kernel", 1, "overwatch", 30)

	require.NoError(t, err)
	assert.Equal(t, "drone-1", allocation.ResourceID)
}

func TestAvailableFiltersByTypeAndStatus(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(drone("drone-1", 41.88, -87.63))
	manager.Register(drone("drone-2", 41.90, -87.60))
	manager.Register(&models.Resource{
		ID:   "unit-7",
		Type: models.ResourceDispatchUnit,
		Name: "Patrol 7",
	})

	_, err := manager.Allocate("drone-1", "wf-1", "kernel", 1, "overwatch", 30)
	require.NoError(t, err)

	available := manager.Available(models.ResourceDrone)

	require.Len(t, available, 1)
	assert.Equal(t, "drone-2", available[0].ID)
}

func TestStatisticsTracksUtilization(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(drone("drone-1", 41.88, -87.63))
	manager.Register(drone("drone-2", 41.90, -87.60))

	_, err := manager.Allocate("drone-1", "wf-1", "kernel", 1, "overwatch", 30)
	require.NoError(t, err)
	manager.Release("drone-1")

	_, err = manager.Allocate("drone-2", "wf-1", "kernel", 1, "overwatch", 30)
	require.NoError(t, err)

	stats := manager.Statistics()

	assert.Equal(t, int64(2), stats.Allocations)
	assert.Equal(t, int64(1), stats.Releases)

	utilization := stats.ByType[models.ResourceDrone]
	assert.Equal(t, 2, utilization.Total)
	assert.Equal(t, 1, utilization.Available)
	assert.Equal(t, 1, utilization.Allocated)
}
