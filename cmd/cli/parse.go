package main

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/and161185/placesync/internal/model"
	"github.com/and161185/placesync/internal/protocol"
)

// regionAliases are short forms accepted on the command line besides the wire tags.
var regionAliases = map[string]model.RegionType{
	"state":    model.RegionUSState,
	"province": model.RegionCanadianProvince,
	"unesco":   model.RegionUNESCOSite,
	"park":     model.RegionNationalPark,
}

func parseRegionType(s string) (model.RegionType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if rt, ok := regionAliases[s]; ok {
		return rt, nil
	}
	return model.ParseRegionType(strings.ReplaceAll(s, "-", "_"))
}

// reCode accepts ISO-style codes (FR, US-CA) and free-form slugs for open-ended types.
var reCode = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func validCode(code string) bool { return reCode.MatchString(code) }

// parseKey reads "<type> <code>" arguments. Country and subnational codes are upper-cased.
func parseKey(args []string) (model.RegionKey, error) {
	if len(args) != 2 {
		return model.RegionKey{}, fmt.Errorf("want <region-type> <code>, got %d args", len(args))
	}
	rt, err := parseRegionType(args[0])
	if err != nil {
		return model.RegionKey{}, err
	}
	code := strings.TrimSpace(args[1])
	if !validCode(code) {
		return model.RegionKey{}, fmt.Errorf("bad region code %q", args[1])
	}
	if !rt.IsLandmark() {
		code = strings.ToUpper(code)
	}
	return model.RegionKey{Type: rt, Code: code}, nil
}

func parseStatus(s string) (model.PlaceStatus, error) {
	switch strings.ToLower(s) {
	case "visited", "v":
		return model.StatusVisited, nil
	case "bucket", "bucket_list", "bucket-list", "b":
		return model.StatusBucketList, nil
	default:
		return "", fmt.Errorf("unknown status %q (visited|bucket)", s)
	}
}

// optDate parses a YYYY-MM-DD (or RFC 3339) flag value; empty means unset.
func optDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := protocol.ParseDate(s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func optString(s string, set bool) *string {
	if !set {
		return nil
	}
	return &s
}
