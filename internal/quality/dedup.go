package quality

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/quotecore/quotecore/internal/domain"
)

// DuplicateType classifies a pairwise match by similarity.
type DuplicateType string

const (
	DuplicateExact   DuplicateType = "exact"   // s = 1.0
	DuplicatePartial DuplicateType = "partial" // s >= 0.8
	DuplicateSimilar DuplicateType = "similar" // s >= 0.6
)

// Strategy selects which record a duplicate group keeps.
type Strategy string

const (
	KeepFirst          Strategy = "keep_first"
	KeepLast           Strategy = "keep_last"
	KeepHighestQuality Strategy = "keep_highest_quality"
	Merge              Strategy = "merge" // reserved
)

// Similarity weights over the compared field set.
const (
	weightCode   = 0.30
	weightDate   = 0.30
	weightClose  = 0.20
	weightVolume = 0.10
	weightOHL    = 0.10
)

const (
	thresholdPartial = 0.8
	thresholdSimilar = 0.6
)

// DuplicateGroup records one resolved group: the kept row index and the
// suppressed ones, with the strongest duplicate class observed.
type DuplicateGroup struct {
	Key        domain.RowKey `json:"key"`
	Type       DuplicateType `json:"type"`
	Similarity float64       `json:"similarity"`
	KeptIndex  int           `json:"kept_index"`
	Suppressed []int         `json:"suppressed"`
}

// DeduplicationReport summarizes one Dedup invocation.
type DeduplicationReport struct {
	ReportID   string           `json:"report_id"`
	Strategy   Strategy         `json:"strategy"`
	TotalRows  int              `json:"total_rows"`
	KeptRows   int              `json:"kept_rows"`
	Duplicates int              `json:"duplicates"`
	Groups     []DuplicateGroup `json:"groups,omitempty"`
}

// Deduplicator groups rows by their uniqueness key and resolves collisions.
type Deduplicator struct{}

// NewDeduplicator constructs the stage.
func NewDeduplicator() *Deduplicator { return &Deduplicator{} }

// Dedup returns the surviving rows in their original relative order plus a
// report. Input is never mutated; calling twice on identical input yields the
// same selection. Scores align with rows by index and drive
// keep_highest_quality; a nil scores slice degrades it to keep_first.
func (d *Deduplicator) Dedup(rows []domain.Row, scores []float64, strategy Strategy) ([]domain.Row, DeduplicationReport, error) {
	report := DeduplicationReport{
		ReportID:  uuid.NewString(),
		Strategy:  strategy,
		TotalRows: len(rows),
	}

	switch strategy {
	case KeepFirst, KeepLast, KeepHighestQuality:
	case Merge:
		return nil, report, domain.E(domain.KindInputInvalid, "merge strategy is reserved")
	default:
		return nil, report, domain.E(domain.KindInputInvalid, fmt.Sprintf("unknown dedup strategy %q", strategy))
	}

	groups := make(map[domain.RowKey][]int)
	order := make([]domain.RowKey, 0, len(rows))
	for i, row := range rows {
		key := row.Key()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	keep := make(map[int]bool, len(rows))
	for _, key := range order {
		idxs := groups[key]
		if len(idxs) == 1 {
			keep[idxs[0]] = true
			continue
		}

		kept := selectKept(idxs, scores, strategy)
		keep[kept] = true

		group := DuplicateGroup{Key: key, KeptIndex: kept, Similarity: 1}
		minSim := 1.0
		for _, i := range idxs {
			if i == kept {
				continue
			}
			group.Suppressed = append(group.Suppressed, i)
			if s := similarity(rows[kept], rows[i]); s < minSim {
				minSim = s
			}
		}
		group.Similarity = minSim
		group.Type = classify(minSim)
		report.Groups = append(report.Groups, group)
		report.Duplicates += len(group.Suppressed)
	}

	out := make([]domain.Row, 0, len(keep))
	for i, row := range rows {
		if keep[i] {
			out = append(out, row)
		}
	}
	report.KeptRows = len(out)
	sort.SliceStable(report.Groups, func(a, b int) bool {
		return report.Groups[a].KeptIndex < report.Groups[b].KeptIndex
	})
	return out, report, nil
}

func selectKept(idxs []int, scores []float64, strategy Strategy) int {
	switch strategy {
	case KeepLast:
		return idxs[len(idxs)-1]
	case KeepHighestQuality:
		if scores == nil {
			return idxs[0]
		}
		best := idxs[0]
		for _, i := range idxs[1:] {
			if i < len(scores) && best < len(scores) && scores[i] > scores[best] {
				best = i
			}
		}
		return best
	default:
		return idxs[0]
	}
}

// similarity computes the weighted field similarity between two rows that
// share a primary key. Code and date always match inside a group; the price
// and volume terms use relative closeness.
func similarity(a, b domain.Row) float64 {
	s := weightCode + weightDate
	s += weightClose * closeness(a.Close, b.Close)
	s += weightVolume * closeness(a.Volume, b.Volume)
	ohl := (closeness(a.Open, b.Open) + closeness(a.High, b.High) + closeness(a.Low, b.Low)) / 3
	s += weightOHL * ohl
	return s
}

// closeness maps two floats to [0,1]: 1 when equal, decaying with relative
// difference.
func closeness(a, b float64) float64 {
	if a == b {
		return 1
	}
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return 1
	}
	diff := math.Abs(a-b) / denom
	if diff >= 1 {
		return 0
	}
	return 1 - diff
}

func classify(s float64) DuplicateType {
	switch {
	case s >= 1:
		return DuplicateExact
	case s >= thresholdPartial:
		return DuplicatePartial
	default:
		return DuplicateSimilar
	}
}
