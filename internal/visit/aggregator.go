package visit

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"olocus/internal/crypto"
	"olocus/internal/ledger"
	"olocus/internal/merkle"
	"olocus/pkg/domain"
)

// ConfidencePriors are the fixed heuristic confidence constants per visit
// type. They are policy defaults, not derived from data; changing them is a
// compatibility-affecting choice.
type ConfidencePriors struct {
	Home     float64 `yaml:"home"`
	Work     float64 `yaml:"work"`
	Transit  float64 `yaml:"transit"`
	Dining   float64 `yaml:"dining"`
	Shopping float64 `yaml:"shopping"`
	Other    float64 `yaml:"other"`
}

// Config tunes the clustering and classification rules.
type Config struct {
	EpsilonMeters          float64          `yaml:"epsilon_meters"`
	MinSamples             int              `yaml:"min_samples"`
	FrequentVisitThreshold int              `yaml:"frequent_visit_threshold"`
	TransitMaxDuration     time.Duration    `yaml:"transit_max_duration"`
	TransitSpeedMS         float64          `yaml:"transit_speed_ms"`
	Confidence             ConfidencePriors `yaml:"confidence"`
}

// DefaultConfig returns the interoperable parameter profile.
func DefaultConfig() Config {
	return Config{
		EpsilonMeters:          50,
		MinSamples:             3,
		FrequentVisitThreshold: 5,
		TransitMaxDuration:     30 * time.Minute,
		TransitSpeedMS:         5.0,
		Confidence: ConfidencePriors{
			Home:     0.9,
			Work:     0.85,
			Transit:  0.7,
			Dining:   0.6,
			Shopping: 0.5,
			Other:    0.5,
		},
	}
}

// History answers "how often has this device been near here before"; it
// backs the frequency component of the home/work rules. Implementations
// query previously detected visits.
type History interface {
	VisitCountNear(ctx context.Context, center ledger.GeoCoordinates, radiusMeters float64) (int, error)
}

// Aggregator clusters block windows into visits. It reads a snapshot of
// blocks and never mutates the chain, so it can run concurrently with
// appends.
type Aggregator struct {
	cfg     Config
	history History
	logger  *slog.Logger
}

type Option func(*Aggregator)

func WithHistory(h History) Option {
	return func(a *Aggregator) {
		a.history = h
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

func NewAggregator(cfg Config, opts ...Option) *Aggregator {
	if cfg.EpsilonMeters <= 0 {
		cfg.EpsilonMeters = 50
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 3
	}
	a := &Aggregator{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate clusters the ordered block window into visits. Identical input
// and parameters always yield identical visits, ids and commitments
// included, so re-detecting a window updates rows instead of duplicating
// them.
func (a *Aggregator) Aggregate(ctx context.Context, chainID domain.ChainID, blocks []ledger.LocationBlock) ([]Visit, error) {
	clusters := a.cluster(blocks)

	visits := make([]Visit, 0, len(clusters))
	for _, members := range clusters {
		visit, err := a.buildVisit(ctx, chainID, blocks, members)
		if err != nil {
			return nil, err
		}
		visits = append(visits, visit)
	}

	a.logger.DebugContext(ctx, "aggregated visits",
		"chain_id", chainID,
		"blocks", len(blocks),
		"visits", len(visits),
	)
	return visits, nil
}

// cluster runs DBSCAN over the window. Points are processed in block order
// and neighbor expansion is in block order, which makes membership fully
// deterministic. A point's epsilon-neighborhood includes the point itself,
// so min_samples=3 is satisfiable by three mutually-close samples.
func (a *Aggregator) cluster(blocks []ledger.LocationBlock) [][]int {
	n := len(blocks)
	if n == 0 {
		return nil
	}

	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if HaversineMeters(blocks[i].Coordinates, blocks[j].Coordinates) <= a.cfg.EpsilonMeters {
				neighbors[i] = append(neighbors[i], j)
			}
		}
	}

	const (
		unvisited = 0
		noise     = -1
	)
	labels := make([]int, n) // 0 unvisited, -1 noise, >0 cluster id
	var clusters [][]int

	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		if len(neighbors[i]) < a.cfg.MinSamples {
			labels[i] = noise
			continue
		}

		clusterID := len(clusters) + 1
		var members []int
		queue := []int{i}
		labels[i] = clusterID

		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			members = append(members, p)

			// Only core points expand the cluster; border points join but
			// do not pull in their own neighborhoods.
			if len(neighbors[p]) < a.cfg.MinSamples {
				continue
			}
			for _, q := range neighbors[p] {
				if labels[q] == noise {
					labels[q] = clusterID
					members = append(members, q)
				} else if labels[q] == unvisited {
					labels[q] = clusterID
					queue = append(queue, q)
				}
			}
		}

		sort.Ints(members)
		clusters = append(clusters, members)
	}

	return clusters
}

func (a *Aggregator) buildVisit(ctx context.Context, chainID domain.ChainID, blocks []ledger.LocationBlock, members []int) (Visit, error) {
	member := make([]ledger.LocationBlock, len(members))
	for i, idx := range members {
		member[i] = blocks[idx]
	}
	// Canonical ordering is by chain index, not insertion order.
	sort.Slice(member, func(i, j int) bool { return member[i].Index < member[j].Index })

	center := centroid(member)
	radius := radius95(center, member)

	arrival := member[0].Timestamp
	departure := member[0].Timestamp
	for _, b := range member[1:] {
		if b.Timestamp.Before(arrival) {
			arrival = b.Timestamp
		}
		if b.Timestamp.After(departure) {
			departure = b.Timestamp
		}
	}

	hashes := make([]crypto.Hash, len(member))
	indexes := make([]uint64, len(member))
	for i, b := range member {
		hashes[i] = b.Hash
		indexes[i] = b.Index
	}

	visitType, confidence, err := a.classify(ctx, center, arrival, departure, member)
	if err != nil {
		return Visit{}, err
	}

	id := deterministicVisitID(chainID, hashes)
	return Visit{
		ID:           id,
		ChainID:      chainID,
		Center:       center,
		RadiusMeters: radius,
		Arrival:      arrival,
		Departure:    departure,
		Type:         visitType,
		Confidence:   confidence,
		BlockHashes:  hashes,
		BlockIndexes: indexes,
		MerkleRoot:   merkle.Build(hashes).Root(),
		Commitment:   ComputeCommitment(id, center, arrival),
	}, nil
}

// deterministicVisitID derives the visit id from the chain and the member
// block hashes. The same physical stay always maps to the same id, so
// repeated detection over a window cannot mint duplicate visits.
func deterministicVisitID(chainID domain.ChainID, hashes []crypto.Hash) domain.VisitID {
	seed := make([]byte, 0, 36+len(hashes)*crypto.HashSize)
	seed = append(seed, chainID.String()...)
	for _, h := range hashes {
		seed = append(seed, h[:]...)
	}
	return domain.VisitID(uuid.NewSHA1(uuid.NameSpaceOID, seed))
}

func centroid(blocks []ledger.LocationBlock) ledger.GeoCoordinates {
	var lon, lat, alt float64
	for _, b := range blocks {
		lon += b.Coordinates.Longitude
		lat += b.Coordinates.Latitude
		alt += b.Coordinates.Altitude
	}
	n := float64(len(blocks))
	return ledger.GeoCoordinates{Longitude: lon / n, Latitude: lat / n, Altitude: alt / n}
}

// radius95 is the 95th-percentile distance from the centroid.
func radius95(center ledger.GeoCoordinates, blocks []ledger.LocationBlock) float64 {
	distances := make([]float64, len(blocks))
	for i, b := range blocks {
		distances[i] = HaversineMeters(center, b.Coordinates)
	}
	sort.Float64s(distances)

	idx := int(math.Ceil(0.95*float64(len(distances)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(distances) {
		idx = len(distances) - 1
	}
	return distances[idx]
}

// classify applies the rule table in frozen precedence order; the first
// matching rule wins and carries its confidence prior.
func (a *Aggregator) classify(ctx context.Context, center ledger.GeoCoordinates, arrival, departure time.Time, member []ledger.LocationBlock) (Type, float64, error) {
	duration := departure.Sub(arrival)
	frequent, err := a.isFrequent(ctx, center)
	if err != nil {
		return "", 0, err
	}

	switch {
	case frequent && overlapsDaily(arrival, departure, 22, 6):
		return TypeHome, a.cfg.Confidence.Home, nil
	case frequent && isWeekday(arrival) && overlapsDaily(arrival, departure, 9, 17):
		return TypeWork, a.cfg.Confidence.Work, nil
	case duration < a.cfg.TransitMaxDuration && a.meanSpeed(member) > a.cfg.TransitSpeedMS:
		return TypeTransit, a.cfg.Confidence.Transit, nil
	case duration >= 30*time.Minute && duration <= 2*time.Hour && overlapsDaily(arrival, departure, 18, 22):
		return TypeDining, a.cfg.Confidence.Dining, nil
	case duration >= time.Hour && duration <= 3*time.Hour:
		return TypeShopping, a.cfg.Confidence.Shopping, nil
	default:
		return TypeOther, a.cfg.Confidence.Other, nil
	}
}

func (a *Aggregator) isFrequent(ctx context.Context, center ledger.GeoCoordinates) (bool, error) {
	if a.history == nil {
		return false, nil
	}
	count, err := a.history.VisitCountNear(ctx, center, a.cfg.EpsilonMeters)
	if err != nil {
		return false, err
	}
	return count >= a.cfg.FrequentVisitThreshold, nil
}

// meanSpeed is the average speed across consecutive member blocks, in m/s.
func (a *Aggregator) meanSpeed(member []ledger.LocationBlock) float64 {
	if len(member) < 2 {
		return 0
	}
	var total float64
	var count int
	for i := 1; i < len(member); i++ {
		dt := member[i].Timestamp.Sub(member[i-1].Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		total += HaversineMeters(member[i-1].Coordinates, member[i].Coordinates) / dt
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// overlapsDaily reports whether any moment of [arrival, departure] falls
// inside the daily window [startHour, endHour); windows where endHour is
// not after startHour wrap past midnight (22 → 6).
func overlapsDaily(arrival, departure time.Time, startHour, endHour int) bool {
	if departure.Sub(arrival) >= 24*time.Hour {
		return true
	}
	for dayOffset := -1; dayOffset <= 1; dayOffset++ {
		day := arrival.AddDate(0, 0, dayOffset)
		y, m, d := day.Date()
		windowStart := time.Date(y, m, d, startHour, 0, 0, 0, arrival.Location())
		windowEnd := time.Date(y, m, d, endHour, 0, 0, 0, arrival.Location())
		if !windowEnd.After(windowStart) {
			windowEnd = windowEnd.AddDate(0, 0, 1)
		}
		if arrival.Before(windowEnd) && departure.After(windowStart) {
			return true
		}
	}
	return false
}
