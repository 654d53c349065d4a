package storage

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/vjranagit/tempomatch/pkg/types"
)

// Index manages the series index of all tenants
type Index struct {
	// Maps series fingerprint to series metadata
	series map[uint64]*seriesMetadata
	// Inverted index: label name -> label value -> series IDs, ascending.
	// Posting lists are replaced, never modified in place, once published.
	labelIndex map[string]map[string][]uint64
}

// seriesMetadata holds metadata about a single series.
// MinTime and MaxTime are Unix nanoseconds, valid once HasData is set.
type seriesMetadata struct {
	ID       uint64       `json:"id"`
	TenantID string       `json:"tenant_id"`
	Metric   types.Metric `json:"metric"`
	Naive    bool         `json:"naive"`
	HasData  bool         `json:"has_data"`
	MinTime  int64        `json:"min_time"`
	MaxTime  int64        `json:"max_time"`
	Samples  int64        `json:"samples"`
}

// NewIndex creates a new index
func NewIndex() *Index {
	return &Index{
		series:     make(map[uint64]*seriesMetadata),
		labelIndex: make(map[string]map[string][]uint64),
	}
}

// AddSeries adds a series to the index. created reports whether the
// series was unknown before.
func (idx *Index) AddSeries(tenantID string, metric *types.Metric, naive bool) (meta *seriesMetadata, created bool) {
	fingerprint := calculateFingerprint(tenantID, metric)

	if meta, exists := idx.series[fingerprint]; exists {
		return meta, false
	}

	meta = &seriesMetadata{
		ID:       fingerprint,
		TenantID: tenantID,
		Metric:   *metric,
		Naive:    naive,
	}
	idx.insert(meta)
	return meta, true
}

// insert registers metadata loaded from disk or freshly created
func (idx *Index) insert(meta *seriesMetadata) {
	idx.series[meta.ID] = meta

	idx.addLabel("__name__", meta.Metric.Name, meta.ID)
	for name, value := range meta.Metric.Labels {
		idx.addLabel(name, value, meta.ID)
	}
}

func (idx *Index) addLabel(name, value string, id uint64) {
	if idx.labelIndex[name] == nil {
		idx.labelIndex[name] = make(map[string][]uint64)
	}
	ids := idx.labelIndex[name][value]
	pos := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if pos < len(ids) && ids[pos] == id {
		return
	}

	updated := make([]uint64, 0, len(ids)+1)
	updated = append(updated, ids[:pos]...)
	updated = append(updated, id)
	updated = append(updated, ids[pos:]...)
	idx.labelIndex[name][value] = updated
}

func (idx *Index) removeLabel(name, value string, id uint64) {
	ids := idx.labelIndex[name][value]
	updated := make([]uint64, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			updated = append(updated, existing)
		}
	}
	if len(updated) == 0 {
		delete(idx.labelIndex[name], value)
		return
	}
	idx.labelIndex[name][value] = updated
}

// RemoveSeries drops a series from the index
func (idx *Index) RemoveSeries(meta *seriesMetadata) {
	delete(idx.series, meta.ID)

	idx.removeLabel("__name__", meta.Metric.Name, meta.ID)
	for name, value := range meta.Metric.Labels {
		idx.removeLabel(name, value, meta.ID)
	}
}

// Lookup finds the metadata of a tenant's metric
func (idx *Index) Lookup(tenantID string, metric *types.Metric) (*seriesMetadata, bool) {
	meta, ok := idx.series[calculateFingerprint(tenantID, metric)]
	return meta, ok
}

// GetSeries retrieves series metadata by ID
func (idx *Index) GetSeries(id uint64) (*seriesMetadata, bool) {
	meta, ok := idx.series[id]
	return meta, ok
}

// FindSeries finds the tenant's series matching all label selectors,
// sorted by ID.
func (idx *Index) FindSeries(tenantID string, labelSelectors map[string]string) []uint64 {
	var candidates []uint64
	if len(labelSelectors) == 0 {
		candidates = make([]uint64, 0, len(idx.series))
		for id := range idx.series {
			candidates = append(candidates, id)
		}
	} else {
		first := true
		for labelName, labelValue := range labelSelectors {
			ids := idx.labelIndex[labelName][labelValue]
			if len(ids) == 0 {
				return nil
			}
			if first {
				candidates = append([]uint64(nil), ids...)
				first = false
			} else {
				candidates = intersect(candidates, ids)
			}
			if len(candidates) == 0 {
				return nil
			}
		}
	}

	result := candidates[:0]
	for _, id := range candidates {
		if idx.series[id].TenantID == tenantID {
			result = append(result, id)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// UpdateTimeRange widens the time range of a series
func (idx *Index) UpdateTimeRange(meta *seriesMetadata, minTime, maxTime int64) {
	if !meta.HasData || minTime < meta.MinTime {
		meta.MinTime = minTime
	}
	if !meta.HasData || maxTime > meta.MaxTime {
		meta.MaxTime = maxTime
	}
	meta.HasData = true
}

// SeriesCount returns the number of indexed series
func (idx *Index) SeriesCount() int {
	return len(idx.series)
}

// calculateFingerprint hashes tenant, name and sorted labels
func calculateFingerprint(tenantID string, metric *types.Metric) uint64 {
	keys := make([]string, 0, len(metric.Labels))
	for k := range metric.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.New()
	d.WriteString(tenantID)
	d.Write([]byte{0xff})
	d.WriteString(metric.Name)
	for _, k := range keys {
		d.Write([]byte{0})
		d.WriteString(k)
		d.Write([]byte{0})
		d.WriteString(metric.Labels[k])
	}
	return d.Sum64()
}

// intersect finds common elements of two ascending slices. Neither input
// is modified.
func intersect(a, b []uint64) []uint64 {
	result := make([]uint64, 0)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			result = append(result, a[i])
			i++
			j++
		}
	}
	return result
}
