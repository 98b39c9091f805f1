package model

import (
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Acquisition years outside this range are not treated as year tokens.
const (
	minTileYear = 1900
	maxTileYear = 2999
)

// yearInName matches "_2019" or "_20190825" bounded by "_", "." or end of name.
var yearInName = regexp.MustCompile(`(?:^|_)(\d{4})(?:\d{4})?(?:[_.]|$)`)

// TileReference identifies one imagery file and the acquisition year parsed from it.
type TileReference struct {
	ID   string
	Year int
}

// NewTileReference builds a reference and derives its year token.
func NewTileReference(id string) TileReference {
	return TileReference{ID: id, Year: ParseTileYear(id)}
}

// ParseTileYear extracts the acquisition year from a tile identifier.
//
// The first path segment that is exactly a four digit year wins, e.g.
// ".../naip/v002/al/2019/al_60cm_2019/30086/m_3008601_ne_16_060_20190825.tif".
// Otherwise the file name is searched for a "_YYYY" or "_YYYYMMDD" token.
// Identifiers without a year token return 0.
func ParseTileYear(id string) int {
	for _, seg := range strings.Split(id, "/") {
		if len(seg) != 4 {
			continue
		}
		if y, err := strconv.Atoi(seg); err == nil && y >= minTileYear && y <= maxTileYear {
			return y
		}
	}
	for _, m := range yearInName.FindAllStringSubmatch(path.Base(id), -1) {
		if y, err := strconv.Atoi(m[1]); err == nil && y >= minTileYear && y <= maxTileYear {
			return y
		}
	}
	return 0
}

// SortTiles dedups ids and orders them by (year, id) ascending, so the most
// recent tile is last.
func SortTiles(ids []string) []TileReference {
	seen := make(map[string]struct{}, len(ids))
	out := make([]TileReference, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, NewTileReference(id))
	}
	SortTileReferences(out)
	return out
}

// SortTileReferences orders refs in place by (year, id) ascending.
func SortTileReferences(refs []TileReference) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Year != refs[j].Year {
			return refs[i].Year < refs[j].Year
		}
		return refs[i].ID < refs[j].ID
	})
}
