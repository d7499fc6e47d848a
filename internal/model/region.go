package model

import (
	"fmt"
)

// RegionType is the exhaustive set of region kinds a record can refer to.
type RegionType uint8

const (
	RegionUnknown RegionType = iota
	RegionCountry
	RegionUSState
	RegionCanadianProvince
	RegionAustralianState
	RegionMexicanState
	RegionBrazilianState
	RegionGermanState
	RegionIndianState
	RegionChineseProvince
	RegionCity
	RegionUNESCOSite
	RegionNationalPark
)

type regionClass uint8

const (
	classCountry regionClass = iota
	classSubnational
	classInternational // subnational outside US/Canada
	classLandmark
)

// RegionInfo is the display and statistics metadata for a region type.
type RegionInfo struct {
	Tag         string
	DisplayName string
	// ParentCountry is the ISO alpha-2 code of the containing country for
	// subnational types, empty otherwise.
	ParentCountry string
	// Total is the number of regions of this type, 0 when open-ended.
	Total int
	class regionClass
}

// regionTable is the single mapping from tag to metadata.
var regionTable = [...]RegionInfo{
	RegionUnknown:          {},
	RegionCountry:          {Tag: "country", DisplayName: "Countries", Total: 195, class: classCountry},
	RegionUSState:          {Tag: "us_state", DisplayName: "US States", ParentCountry: "US", Total: 51, class: classSubnational},
	RegionCanadianProvince: {Tag: "canadian_province", DisplayName: "Canadian Provinces", ParentCountry: "CA", Total: 13, class: classSubnational},
	RegionAustralianState:  {Tag: "australian_state", DisplayName: "Australian States", ParentCountry: "AU", Total: 8, class: classInternational},
	RegionMexicanState:     {Tag: "mexican_state", DisplayName: "Mexican States", ParentCountry: "MX", Total: 32, class: classInternational},
	RegionBrazilianState:   {Tag: "brazilian_state", DisplayName: "Brazilian States", ParentCountry: "BR", Total: 27, class: classInternational},
	RegionGermanState:      {Tag: "german_state", DisplayName: "German States", ParentCountry: "DE", Total: 16, class: classInternational},
	RegionIndianState:      {Tag: "indian_state", DisplayName: "Indian States", ParentCountry: "IN", Total: 36, class: classInternational},
	RegionChineseProvince:  {Tag: "chinese_province", DisplayName: "Chinese Provinces", ParentCountry: "CN", Total: 34, class: classInternational},
	RegionCity:             {Tag: "city", DisplayName: "Cities", class: classLandmark},
	RegionUNESCOSite:       {Tag: "unesco_site", DisplayName: "UNESCO Sites", class: classLandmark},
	RegionNationalPark:     {Tag: "national_park", DisplayName: "National Parks", class: classLandmark},
}

var regionByTag = func() map[string]RegionType {
	m := make(map[string]RegionType, len(regionTable))
	for i, info := range regionTable {
		if info.Tag != "" {
			m[info.Tag] = RegionType(i)
		}
	}
	return m
}()

// RegionTypes lists every known region type in table order.
func RegionTypes() []RegionType {
	out := make([]RegionType, 0, len(regionTable)-1)
	for i := range regionTable {
		if RegionType(i) != RegionUnknown {
			out = append(out, RegionType(i))
		}
	}
	return out
}

// ParseRegionType maps a wire tag to its RegionType.
func ParseRegionType(tag string) (RegionType, error) {
	t, ok := regionByTag[tag]
	if !ok {
		return RegionUnknown, fmt.Errorf("unknown region type %q", tag)
	}
	return t, nil
}

// Valid reports whether t is a known, non-zero region type.
func (t RegionType) Valid() bool {
	return t != RegionUnknown && int(t) < len(regionTable)
}

// Info returns the metadata row for t; unknown types get a zero RegionInfo.
func (t RegionType) Info() RegionInfo {
	if !t.Valid() {
		return RegionInfo{}
	}
	return regionTable[t]
}

func (t RegionType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("RegionType(%d)", uint8(t))
	}
	return regionTable[t].Tag
}

// MarshalText encodes the wire tag.
func (t RegionType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid region type %d", uint8(t))
	}
	return []byte(regionTable[t].Tag), nil
}

// UnmarshalText decodes a wire tag.
func (t *RegionType) UnmarshalText(b []byte) error {
	v, err := ParseRegionType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// IsSubnational reports whether t is a state/province level division.
func (t RegionType) IsSubnational() bool {
	c := t.Info().class
	return t.Valid() && (c == classSubnational || c == classInternational)
}

// IsInternational reports whether t is a subnational division outside US/Canada.
func (t RegionType) IsInternational() bool {
	return t.Valid() && t.Info().class == classInternational
}

// IsLandmark reports whether t is a city or point of interest.
func (t RegionType) IsLandmark() bool {
	return t.Valid() && t.Info().class == classLandmark
}

// ParentCountryCode returns the containing country for a region; a country
// is its own parent, landmarks have none.
func ParentCountryCode(t RegionType, code string) (string, bool) {
	switch {
	case t == RegionCountry:
		return code, true
	case t.IsSubnational():
		return t.Info().ParentCountry, true
	default:
		return "", false
	}
}
