package aggregate

import (
	"sort"

	"github.com/miradorstack/mirador-hotspots/internal/utils"
)

type rowKey struct {
	start     string
	namespace string
	name      string
}

// Merge combines rows of the same bucket and entity produced by separate
// Aggregate calls, summing their numeric fields. Output is ordered by bucket
// start, then namespace and name. Merging merged output returns it unchanged.
func Merge(source []SourceRow, dest []DestRow) ([]SourceRow, []DestRow) {
	return mergeSource(source), mergeDest(dest)
}

func mergeSource(rows []SourceRow) []SourceRow {
	index := map[rowKey]int{}
	out := make([]SourceRow, 0, len(rows))
	for _, row := range rows {
		key := rowKey{utils.FormatBucketTime(row.Start), row.Namespace, row.Name}
		if i, ok := index[key]; ok {
			out[i].UniqueDestIPs += row.UniqueDestIPs
			out[i].UniqueDestPorts += row.UniqueDestPorts
			out[i].BytesOut += row.BytesOut
			continue
		}
		index[key] = len(out)
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lessRow(out[i].Start.Unix(), out[i].Namespace, out[i].Name, out[j].Start.Unix(), out[j].Namespace, out[j].Name)
	})
	return out
}

func mergeDest(rows []DestRow) []DestRow {
	index := map[rowKey]int{}
	out := make([]DestRow, 0, len(rows))
	for _, row := range rows {
		key := rowKey{utils.FormatBucketTime(row.Start), row.Namespace, row.Name}
		if i, ok := index[key]; ok {
			out[i].BytesIn += row.BytesIn
			continue
		}
		index[key] = len(out)
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lessRow(out[i].Start.Unix(), out[i].Namespace, out[i].Name, out[j].Start.Unix(), out[j].Namespace, out[j].Name)
	})
	return out
}

func lessRow(aStart int64, aNS, aName string, bStart int64, bNS, bName string) bool {
	if aStart != bStart {
		return aStart < bStart
	}
	if aNS != bNS {
		return aNS < bNS
	}
	return aName < bName
}
