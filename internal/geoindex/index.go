package geoindex

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"
	"github.com/google/uuid"
	"github.com/mmcloughlin/geohash"
	"github.com/velora-rides/service-dispatch/internal/domain/geo"
)

const (
	// geohashPrecision of 7 gives ~150m cells, fine enough to partition
	// location events by neighborhood.
	geohashPrecision = 7

	// pointTolerance is the bounding-box half-width used to store a driver
	// position as a degenerate rectangle in the R-tree.
	pointTolerance = 0.0001

	// metersPerDegreeLat is the approximate north-south span of one degree.
	metersPerDegreeLat = 111320.0

	subscriberBuffer = 16
)

// DriverRecord is a driver's last known position and availability. Records
// are owned by the index and returned by value so a query never observes a
// record mutated mid-read.
type DriverRecord struct {
	ID        uuid.UUID      `json:"id"`
	Location  geo.Coordinate `json:"location"`
	Geohash   string         `json:"geohash"`
	Available bool           `json:"available"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// spatialDriver adapts a driver record to the R-tree's Spatial interface.
// The tree stores pointers so deletion by identity works on upsert.
type spatialDriver struct {
	rec  DriverRecord
	rect rtreego.Rect
}

func (d *spatialDriver) Bounds() rtreego.Rect {
	return d.rect
}

// Index maintains driver positions in an R-tree and answers radius queries
// ordered by great-circle distance. Safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	tree    *rtreego.Rtree
	drivers map[uuid.UUID]*spatialDriver
	subs    map[int64]*nearbySub
	nextSub int64
}

type nearbySub struct {
	center geo.Coordinate
	radius float64
	limit  int
	ch     chan []DriverRecord
}

// New creates an empty driver index.
func New() *Index {
	return &Index{
		tree:    rtreego.NewTree(2, 25, 50),
		drivers: make(map[uuid.UUID]*spatialDriver),
		subs:    make(map[int64]*nearbySub),
	}
}

// Upsert replaces the driver's record with the given position and
// availability. The update is atomic per driver.
func (idx *Index) Upsert(driverID uuid.UUID, location geo.Coordinate, available bool) {
	idx.mu.Lock()
	idx.upsertLocked(driverID, location, available)
	idx.notifyLocked()
	idx.mu.Unlock()
}

// UpdateLocation moves a driver without touching their availability flag.
// A driver not yet in the index is added as available, since only online
// drivers publish positions.
func (idx *Index) UpdateLocation(driverID uuid.UUID, location geo.Coordinate) {
	idx.mu.Lock()
	available := true
	if existing, ok := idx.drivers[driverID]; ok {
		available = existing.rec.Available
	}
	idx.upsertLocked(driverID, location, available)
	idx.notifyLocked()
	idx.mu.Unlock()
}

// SetAvailability flips the availability flag for a known driver. It returns
// false if the driver has never reported a position.
func (idx *Index) SetAvailability(driverID uuid.UUID, available bool) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	existing, ok := idx.drivers[driverID]
	if !ok {
		return false
	}
	idx.upsertLocked(driverID, existing.rec.Location, available)
	idx.notifyLocked()
	return true
}

// Remove drops a driver that went offline.
func (idx *Index) Remove(driverID uuid.UUID) {
	idx.mu.Lock()
	if existing, ok := idx.drivers[driverID]; ok {
		idx.tree.Delete(existing)
		delete(idx.drivers, driverID)
		idx.notifyLocked()
	}
	idx.mu.Unlock()
}

// Get returns the driver's current record.
func (idx *Index) Get(driverID uuid.UUID) (DriverRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	existing, ok := idx.drivers[driverID]
	if !ok {
		return DriverRecord{}, false
	}
	return existing.rec, true
}

// QueryNearby returns up to limit available drivers within radiusMeters of
// center, ordered by ascending great-circle distance with ties broken by
// driver id. An empty result is not an error.
func (idx *Index) QueryNearby(center geo.Coordinate, radiusMeters float64, limit int) []DriverRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.queryNearbyLocked(center, radiusMeters, limit)
}

func (idx *Index) queryNearbyLocked(center geo.Coordinate, radiusMeters float64, limit int) []DriverRecord {
	if radiusMeters <= 0 || limit == 0 {
		return []DriverRecord{}
	}

	searchPoint := rtreego.Point{center.Latitude, center.Longitude}
	results := idx.tree.SearchIntersect(searchPoint.ToRect(searchTolerance(center.Latitude, radiusMeters)))

	type candidate struct {
		rec      DriverRecord
		distance float64
	}
	candidates := make([]candidate, 0, len(results))
	for _, spatial := range results {
		sd, ok := spatial.(*spatialDriver)
		if !ok || !sd.rec.Available {
			continue
		}
		d := center.DistanceMeters(sd.rec.Location)
		if d > radiusMeters {
			continue
		}
		candidates = append(candidates, candidate{rec: sd.rec, distance: d})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].rec.ID.String() < candidates[j].rec.ID.String()
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	records := make([]DriverRecord, len(candidates))
	for i, c := range candidates {
		records[i] = c.rec
	}
	return records
}

// SubscribeNearby streams the set of available drivers within the circle
// whenever the index changes. The first snapshot is delivered immediately.
// Cancelling the subscription has no effect on the drivers themselves.
func (idx *Index) SubscribeNearby(center geo.Coordinate, radiusMeters float64, limit int) (<-chan []DriverRecord, func()) {
	idx.mu.Lock()

	id := idx.nextSub
	idx.nextSub++
	sub := &nearbySub{
		center: center,
		radius: radiusMeters,
		limit:  limit,
		ch:     make(chan []DriverRecord, subscriberBuffer),
	}
	idx.subs[id] = sub
	sub.ch <- idx.queryNearbyLocked(center, radiusMeters, limit)

	idx.mu.Unlock()

	cancel := func() {
		idx.mu.Lock()
		if s, ok := idx.subs[id]; ok {
			delete(idx.subs, id)
			close(s.ch)
		}
		idx.mu.Unlock()
	}
	return sub.ch, cancel
}

func (idx *Index) upsertLocked(driverID uuid.UUID, location geo.Coordinate, available bool) {
	if existing, ok := idx.drivers[driverID]; ok {
		idx.tree.Delete(existing)
	}

	point := rtreego.Point{location.Latitude, location.Longitude}
	sd := &spatialDriver{
		rec: DriverRecord{
			ID:        driverID,
			Location:  location,
			Geohash:   geohash.EncodeWithPrecision(location.Latitude, location.Longitude, geohashPrecision),
			Available: available,
			UpdatedAt: time.Now().UTC(),
		},
		rect: point.ToRect(pointTolerance),
	}
	idx.tree.Insert(sd)
	idx.drivers[driverID] = sd
}

// notifyLocked pushes a fresh snapshot to every nearby subscriber. Sends are
// non-blocking: a subscriber that cannot keep up misses intermediate
// snapshots but always converges on the latest.
func (idx *Index) notifyLocked() {
	for _, sub := range idx.subs {
		snapshot := idx.queryNearbyLocked(sub.center, sub.radius, sub.limit)
		select {
		case sub.ch <- snapshot:
		default:
		}
	}
}

// searchTolerance converts a radius in meters to the degree half-width of a
// bounding box wide enough to cover the circle at the given latitude.
func searchTolerance(latitude, radiusMeters float64) float64 {
	latDelta := radiusMeters / metersPerDegreeLat
	cosLat := math.Cos(degreesToRadians(latitude))
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	lngDelta := radiusMeters / (metersPerDegreeLat * cosLat)
	return math.Max(latDelta, lngDelta)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
