package main

import (
	"github.com/and161185/placesync/internal/model"
)

// statRow is the per-type summary printed by `placesync stats`.
type statRow struct {
	Type    model.RegionType
	Visited int
	Transit int
	Bucket  int
	Total   int     // known regions of this type, 0 when open-ended
	Percent float64 // visited share of Total
}

// computeStats summarizes active records per region type, in table order.
// Types without records are omitted.
func computeStats(recs []model.PlaceRecord) []statRow {
	byType := make(map[model.RegionType]*statRow)
	for _, r := range recs {
		if r.IsDeleted {
			continue
		}
		row, ok := byType[r.RegionType]
		if !ok {
			row = &statRow{Type: r.RegionType, Total: r.RegionType.Info().Total}
			byType[r.RegionType] = row
		}
		switch {
		case r.Status == model.StatusBucketList:
			row.Bucket++
		case r.VisitType == model.VisitTransit:
			row.Transit++
		default:
			row.Visited++
		}
	}

	var out []statRow
	for _, rt := range model.RegionTypes() {
		row, ok := byType[rt]
		if !ok {
			continue
		}
		if row.Total > 0 {
			row.Percent = 100 * float64(row.Visited) / float64(row.Total)
		}
		out = append(out, *row)
	}
	return out
}
