package visit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"olocus/internal/crypto"
	"olocus/internal/ledger"
	"olocus/internal/merkle"
	"olocus/pkg/domain"
)

// blockAt fabricates a block with only the fields the aggregator reads.
func blockAt(index uint64, ts time.Time, lon, lat float64) ledger.LocationBlock {
	b := ledger.LocationBlock{
		Index:       index,
		Timestamp:   ts,
		Coordinates: ledger.GeoCoordinates{Longitude: lon, Latitude: lat},
		Accuracy:    ledger.GeoAccuracy{Horizontal: 5},
		Motion:      ledger.MotionStationary,
	}
	b.Hash = b.ComputeHash()
	return b
}

// Roughly 1e-5 degrees of latitude is ~1.1 meters.
const degPerMeterLat = 1.0 / 111320.0

func TestThreeNearbyBlocksFormOneVisit(t *testing.T) {
	base := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	blocks := []ledger.LocationBlock{
		blockAt(0, base, 13.4050, 52.5200),
		blockAt(1, base.Add(12*time.Minute), 13.4050, 52.5200+30*degPerMeterLat),
		blockAt(2, base.Add(25*time.Minute), 13.4050, 52.5200-10*degPerMeterLat),
	}

	agg := NewAggregator(DefaultConfig())
	visits, err := agg.Aggregate(context.Background(), domain.NewChainID(), blocks)
	require.NoError(t, err)
	require.Len(t, visits, 1)

	v := visits[0]
	assert.Equal(t, int64(1500), int64(v.Duration()/time.Second), "25 minutes of samples")
	assert.Len(t, v.BlockHashes, 3)
	assert.Equal(t, []uint64{0, 1, 2}, v.BlockIndexes)
	assert.Equal(t, base, v.Arrival)
	assert.Equal(t, base.Add(25*time.Minute), v.Departure)
}

func TestNoisePointsAreDiscarded(t *testing.T) {
	base := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	blocks := []ledger.LocationBlock{
		blockAt(0, base, 13.4050, 52.5200),
		blockAt(1, base.Add(5*time.Minute), 13.4050, 52.5200+20*degPerMeterLat),
		blockAt(2, base.Add(10*time.Minute), 13.4050, 52.5200+40*degPerMeterLat),
		// A single sample 5km away never reaches min_samples.
		blockAt(3, base.Add(15*time.Minute), 13.4050, 52.5200+5000*degPerMeterLat),
	}

	agg := NewAggregator(DefaultConfig())
	visits, err := agg.Aggregate(context.Background(), domain.NewChainID(), blocks)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Len(t, visits[0].BlockHashes, 3, "outlier must be dropped as noise")
}

func TestClusteringIsDeterministic(t *testing.T) {
	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	var blocks []ledger.LocationBlock
	for i := 0; i < 40; i++ {
		offset := float64(i%7) * 6 * degPerMeterLat
		blocks = append(blocks, blockAt(uint64(i), base.Add(time.Duration(i)*time.Minute), 13.40, 52.52+offset))
	}

	agg := NewAggregator(DefaultConfig())
	first, err := agg.Aggregate(context.Background(), domain.NewChainID(), blocks)
	require.NoError(t, err)
	second, err := agg.Aggregate(context.Background(), domain.NewChainID(), blocks)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].BlockIndexes, second[i].BlockIndexes, "membership must be stable")
		assert.Equal(t, first[i].Center, second[i].Center)
		assert.Equal(t, first[i].RadiusMeters, second[i].RadiusMeters)
		assert.Equal(t, first[i].MerkleRoot, second[i].MerkleRoot)
	}
}

// TestRedetectionDoesNotDuplicateVisits re-runs detection over the same
// window and saves both results; the store must hold one visit, not two.
func TestRedetectionDoesNotDuplicateVisits(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	blocks := []ledger.LocationBlock{
		blockAt(0, base, 13.4050, 52.5200),
		blockAt(1, base.Add(12*time.Minute), 13.4050, 52.5200+30*degPerMeterLat),
		blockAt(2, base.Add(25*time.Minute), 13.4050, 52.5200-10*degPerMeterLat),
	}
	chainID := domain.NewChainID()
	agg := NewAggregator(DefaultConfig())

	first, err := agg.Aggregate(ctx, chainID, blocks)
	require.NoError(t, err)
	require.Len(t, first, 1)
	second, err := agg.Aggregate(ctx, chainID, blocks)
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[0].Commitment, second[0].Commitment)

	store := NewInMemoryStore()
	require.NoError(t, store.SaveVisit(ctx, first[0]))
	require.NoError(t, store.SaveVisit(ctx, second[0]))
	stored, err := store.VisitsInPeriod(ctx, chainID, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stored, 1, "one stay, one row")

	// Another chain detecting the same blocks owns a distinct visit.
	other, err := agg.Aggregate(ctx, domain.NewChainID(), blocks)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.NotEqual(t, first[0].ID, other[0].ID)
}

func TestVisitMerkleRootMatchesBlockHashes(t *testing.T) {
	base := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	blocks := []ledger.LocationBlock{
		blockAt(0, base, 13.4050, 52.5200),
		blockAt(1, base.Add(5*time.Minute), 13.4050, 52.5200),
		blockAt(2, base.Add(10*time.Minute), 13.4050, 52.5200),
	}

	agg := NewAggregator(DefaultConfig())
	visits, err := agg.Aggregate(context.Background(), domain.NewChainID(), blocks)
	require.NoError(t, err)
	require.Len(t, visits, 1)

	want := merkle.Build([]crypto.Hash{blocks[0].Hash, blocks[1].Hash, blocks[2].Hash}).Root()
	assert.Equal(t, want, visits[0].MerkleRoot)
}

func TestCommitmentBindsIDCenterArrival(t *testing.T) {
	id := domain.NewVisitID()
	center := ledger.GeoCoordinates{Longitude: 13.4, Latitude: 52.5}
	arrival := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)

	c1 := ComputeCommitment(id, center, arrival)
	c2 := ComputeCommitment(id, center, arrival)
	assert.Equal(t, c1, c2)

	assert.NotEqual(t, c1, ComputeCommitment(domain.NewVisitID(), center, arrival))
	assert.NotEqual(t, c1, ComputeCommitment(id, ledger.GeoCoordinates{Longitude: 13.5, Latitude: 52.5}, arrival))
	assert.NotEqual(t, c1, ComputeCommitment(id, center, arrival.Add(time.Second)))
}

type fixedHistory struct{ count int }

func (h fixedHistory) VisitCountNear(context.Context, ledger.GeoCoordinates, float64) (int, error) {
	return h.count, nil
}

func overnightStay(t *testing.T, history History) Visit {
	t.Helper()
	// 23:10 to 01:40, ten samples at the same spot.
	base := time.Date(2026, 5, 4, 23, 10, 0, 0, time.UTC)
	var blocks []ledger.LocationBlock
	for i := 0; i < 10; i++ {
		blocks = append(blocks, blockAt(uint64(i), base.Add(time.Duration(i)*15*time.Minute), 13.40, 52.52))
	}
	opts := []Option{}
	if history != nil {
		opts = append(opts, WithHistory(history))
	}
	agg := NewAggregator(DefaultConfig(), opts...)
	visits, err := agg.Aggregate(context.Background(), domain.NewChainID(), blocks)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	return visits[0]
}

func TestClassifierPrecedence(t *testing.T) {
	t.Run("frequent overnight stay is home", func(t *testing.T) {
		v := overnightStay(t, fixedHistory{count: 12})
		assert.Equal(t, TypeHome, v.Type)
		assert.InDelta(t, 0.9, v.Confidence, 1e-9)
	})

	t.Run("infrequent overnight stay is not home", func(t *testing.T) {
		v := overnightStay(t, fixedHistory{count: 1})
		assert.NotEqual(t, TypeHome, v.Type)
	})

	t.Run("frequent weekday office hours is work", func(t *testing.T) {
		// Monday 2026-05-04, 10:00-12:30.
		base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
		var blocks []ledger.LocationBlock
		for i := 0; i < 6; i++ {
			blocks = append(blocks, blockAt(uint64(i), base.Add(time.Duration(i)*30*time.Minute), 13.40, 52.52))
		}
		agg := NewAggregator(DefaultConfig(), WithHistory(fixedHistory{count: 8}))
		visits, err := agg.Aggregate(context.Background(), domain.NewChainID(), blocks)
		require.NoError(t, err)
		require.Len(t, visits, 1)
		assert.Equal(t, TypeWork, visits[0].Type)
		assert.InDelta(t, 0.85, visits[0].Confidence, 1e-9)
	})

	t.Run("fast short movement is transit", func(t *testing.T) {
		// ~200m apart each minute: ~3.3 m/s... use 400m for ~6.7 m/s.
		base := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
		cfg := DefaultConfig()
		cfg.EpsilonMeters = 1000 // keep the moving samples in one cluster
		var blocks []ledger.LocationBlock
		for i := 0; i < 4; i++ {
			blocks = append(blocks, blockAt(uint64(i), base.Add(time.Duration(i)*time.Minute), 13.40, 52.52+float64(i)*400*degPerMeterLat))
		}
		agg := NewAggregator(cfg)
		visits, err := agg.Aggregate(context.Background(), domain.NewChainID(), blocks)
		require.NoError(t, err)
		require.Len(t, visits, 1)
		assert.Equal(t, TypeTransit, visits[0].Type)
		assert.InDelta(t, 0.7, visits[0].Confidence, 1e-9)
	})

	t.Run("evening hour-long stay is dining", func(t *testing.T) {
		base := time.Date(2026, 5, 4, 19, 0, 0, 0, time.UTC)
		var blocks []ledger.LocationBlock
		for i := 0; i < 5; i++ {
			blocks = append(blocks, blockAt(uint64(i), base.Add(time.Duration(i)*20*time.Minute), 13.40, 52.52))
		}
		agg := NewAggregator(DefaultConfig())
		visits, err := agg.Aggregate(context.Background(), domain.NewChainID(), blocks)
		require.NoError(t, err)
		require.Len(t, visits, 1)
		assert.Equal(t, TypeDining, visits[0].Type)
	})

	t.Run("midday two-hour stay is shopping", func(t *testing.T) {
		base := time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC)
		var blocks []ledger.LocationBlock
		for i := 0; i < 5; i++ {
			blocks = append(blocks, blockAt(uint64(i), base.Add(time.Duration(i)*30*time.Minute), 13.40, 52.52))
		}
		agg := NewAggregator(DefaultConfig())
		visits, err := agg.Aggregate(context.Background(), domain.NewChainID(), blocks)
		require.NoError(t, err)
		require.Len(t, visits, 1)
		assert.Equal(t, TypeShopping, visits[0].Type)
	})

	t.Run("short slow stay is other", func(t *testing.T) {
		base := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
		var blocks []ledger.LocationBlock
		for i := 0; i < 3; i++ {
			blocks = append(blocks, blockAt(uint64(i), base.Add(time.Duration(i)*8*time.Minute), 13.40, 52.52))
		}
		agg := NewAggregator(DefaultConfig())
		visits, err := agg.Aggregate(context.Background(), domain.NewChainID(), blocks)
		require.NoError(t, err)
		require.Len(t, visits, 1)
		assert.Equal(t, TypeOther, visits[0].Type)
		assert.InDelta(t, 0.5, visits[0].Confidence, 1e-9)
	})
}

func TestHaversineKnownDistance(t *testing.T) {
	// Berlin Alexanderplatz to Brandenburg Gate is roughly 2.1 km.
	a := ledger.GeoCoordinates{Longitude: 13.4132, Latitude: 52.5219}
	b := ledger.GeoCoordinates{Longitude: 13.3777, Latitude: 52.5163}
	d := HaversineMeters(a, b)
	assert.InDelta(t, 2480, d, 200)
}

func TestOverlapsDailyWrapsMidnight(t *testing.T) {
	arrival := time.Date(2026, 5, 4, 23, 30, 0, 0, time.UTC)
	departure := time.Date(2026, 5, 5, 0, 45, 0, 0, time.UTC)
	assert.True(t, overlapsDaily(arrival, departure, 22, 6))

	dayArrival := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	dayDeparture := time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC)
	assert.False(t, overlapsDaily(dayArrival, dayDeparture, 22, 6))
}
