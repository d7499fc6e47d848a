package main

import (
	"testing"

	"github.com/and161185/placesync/internal/model"
)

func Test_computeStats(t *testing.T) {
	t.Parallel()

	rec := func(rt model.RegionType, st model.PlaceStatus, vt model.VisitType, deleted bool) model.PlaceRecord {
		return model.PlaceRecord{RegionType: rt, Status: st, VisitType: vt, IsDeleted: deleted}
	}
	rows := computeStats([]model.PlaceRecord{
		rec(model.RegionUSState, model.StatusVisited, model.VisitFull, false),
		rec(model.RegionCountry, model.StatusVisited, model.VisitFull, false),
		rec(model.RegionCountry, model.StatusVisited, model.VisitTransit, false),
		rec(model.RegionCountry, model.StatusBucketList, model.VisitFull, false),
		rec(model.RegionCountry, model.StatusVisited, model.VisitFull, true),
		rec(model.RegionCity, model.StatusVisited, model.VisitFull, false),
	})
	if len(rows) != 3 {
		t.Fatalf("want 3 rows, got %+v", rows)
	}

	// table order: country, us_state, city
	c, us, city := rows[0], rows[1], rows[2]
	if c.Type != model.RegionCountry || c.Visited != 1 || c.Transit != 1 || c.Bucket != 1 || c.Total != 195 {
		t.Fatalf("country row: %+v", c)
	}
	if us.Type != model.RegionUSState || us.Percent < 1.96 || us.Percent > 1.97 {
		t.Fatalf("us row: %+v", us)
	}
	if city.Total != 0 || city.Percent != 0 {
		t.Fatalf("city row: %+v", city)
	}
}
