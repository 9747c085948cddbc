// Package cluster groups respondents into culture profiles by k-means over
// their standardized dimension means.
//
// Centers are seeded deterministically: the respondent nearest the
// population mean first, then repeatedly the respondent farthest from every
// chosen center. The same ledger therefore always yields the same profiles.
package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/okian/barometer/internal/domain/itembank"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/reason"
	"github.com/okian/barometer/internal/domain/sheet"
	"github.com/okian/barometer/internal/domain/stats"
)

// entity is the EntityID of clustering issues.
const entity = "clusters"

// DimensionMean is a profile's mean 0..100 score on one dimension.
type DimensionMean struct {
	DimensionID string  `json:"dimension_id"`
	Mean        float64 `json:"mean"`
}

// Profile is one cluster of respondents.
type Profile struct {
	ID          int             `json:"id"`
	Size        int             `json:"size"`
	Share       float64         `json:"share"`
	Means       []DimensionMean `json:"means"`
	Strongest   string          `json:"strongest"`
	Weakest     string          `json:"weakest"`
	Respondents []string        `json:"respondents"`
}

// Report is the clustering of an assessment's respondents.
type Report struct {
	K           int            `json:"k"`
	Respondents int            `json:"respondents"`
	Dimensions  []string       `json:"dimensions"`
	Iterations  int            `json:"iterations"`
	Profiles    []Profile      `json:"profiles,omitempty"`
	Silhouette  *float64       `json:"silhouette,omitempty"`
	Issues      []reason.Issue `json:"issues,omitempty"`
}

// Analyze clusters the respondents who answered every dimension.
func Analyze(accepted []model.Response, bank *itembank.Bank, cfg Config) Report {
	sh := sheet.New(accepted, bank)
	var (
		dims  []string
		items [][]itembank.Item
	)
	all := bank.Dimensions()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	for _, d := range all {
		if its := bank.LikertItems(d.ID); len(its) > 0 {
			dims = append(dims, d.ID)
			items = append(items, its)
		}
	}

	var (
		ids  []string
		rows [][]float64
	)
	for _, id := range sh.Respondents() {
		row := make([]float64, len(dims))
		complete := true
		for j := range dims {
			m, n := sh.MeanScore(id, items[j])
			if n == 0 {
				complete = false
				break
			}
			row[j] = m
		}
		if complete {
			ids = append(ids, id)
			rows = append(rows, row)
		}
	}

	rep := Report{Respondents: len(ids), Dimensions: dims}
	if len(dims) == 0 || len(ids) < cfg.MinRespondents {
		rep.Issues = append(rep.Issues, reason.NewIssue(reason.InsufficientData, entity,
			"%d complete respondents, at least %d needed", len(ids), cfg.MinRespondents))
		return rep
	}

	z := standardize(rows)
	k := min(cfg.K, distinct(z))
	labels := make([]int, len(z))
	if k < 2 {
		rep.Issues = append(rep.Issues, reason.NewIssue(reason.InsufficientData, entity,
			"respondents share a single profile"))
		k = 1
	} else {
		labels, rep.Iterations = kmeans(z, k, cfg.MaxIterations)
		rep.Silhouette = stats.Ptr(silhouette(z, labels, k))
	}
	rep.K = k
	rep.Profiles = profiles(ids, rows, dims, labels, k)
	return rep
}

// standardize returns the z-scores of every column. Constant columns become zero.
func standardize(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i := range out {
		out[i] = make([]float64, len(rows[i]))
	}
	col := make([]float64, len(rows))
	for j := range rows[0] {
		for i := range rows {
			col[i] = rows[i][j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if stats.NearZero(std) || !stats.Defined(std) {
			continue
		}
		for i := range rows {
			out[i][j] = (rows[i][j] - mean) / std
		}
	}
	return out
}

func distinct(points [][]float64) int {
	n := 0
	for i := range points {
		dup := false
		for j := 0; j < i; j++ {
			if floats.Equal(points[i], points[j]) {
				dup = true
				break
			}
		}
		if !dup {
			n++
		}
	}
	return n
}

func seed(points [][]float64, k int) [][]float64 {
	origin := make([]float64, len(points[0]))
	first, best := 0, math.Inf(1)
	for i, p := range points {
		if d := floats.Distance(p, origin, 2); d < best {
			first, best = i, d
		}
	}
	centers := [][]float64{append([]float64(nil), points[first]...)}
	for len(centers) < k {
		pick, far := -1, -1.0
		for i, p := range points {
			near := math.Inf(1)
			for _, c := range centers {
				near = math.Min(near, floats.Distance(p, c, 2))
			}
			if near > far {
				pick, far = i, near
			}
		}
		centers = append(centers, append([]float64(nil), points[pick]...))
	}
	return centers
}

func nearest(p []float64, centers [][]float64) int {
	best, dist := 0, math.Inf(1)
	for c, center := range centers {
		if d := floats.Distance(p, center, 2); d < dist {
			best, dist = c, d
		}
	}
	return best
}

// kmeans runs Lloyd's algorithm until no label changes. An emptied cluster
// keeps its previous center.
func kmeans(points [][]float64, k, maxIter int) ([]int, int) {
	centers := seed(points, k)
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}
	iter := 0
	for iter < maxIter {
		iter++
		changed := false
		for i, p := range points {
			if c := nearest(p, centers); c != labels[i] {
				labels[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, len(points[0]))
		}
		for i, p := range points {
			floats.Add(sums[labels[i]], p)
			counts[labels[i]]++
		}
		for c := range centers {
			if counts[c] > 0 {
				floats.Scale(1/float64(counts[c]), sums[c])
				centers[c] = sums[c]
			}
		}
	}
	return labels, iter
}

// silhouette is the mean silhouette coefficient. Members of singleton
// clusters score zero.
func silhouette(points [][]float64, labels []int, k int) float64 {
	size := make([]int, k)
	for _, l := range labels {
		size[l]++
	}
	var total float64
	for i, p := range points {
		if size[labels[i]] < 2 {
			continue
		}
		sum := make([]float64, k)
		for j, q := range points {
			if i != j {
				sum[labels[j]] += floats.Distance(p, q, 2)
			}
		}
		a := sum[labels[i]] / float64(size[labels[i]]-1)
		b := math.Inf(1)
		for c := range sum {
			if c != labels[i] && size[c] > 0 {
				b = math.Min(b, sum[c]/float64(size[c]))
			}
		}
		if den := math.Max(a, b); den > 0 && !math.IsInf(b, 1) {
			total += (b - a) / den
		}
	}
	return total / float64(len(points))
}

func profiles(ids []string, rows [][]float64, dims []string, labels []int, k int) []Profile {
	members := make([][]int, k)
	for i, l := range labels {
		members[l] = append(members[l], i)
	}
	var out []Profile
	for _, m := range members {
		if len(m) == 0 {
			continue
		}
		p := Profile{Size: len(m), Share: 100 * float64(len(m)) / float64(len(ids))}
		for _, i := range m {
			p.Respondents = append(p.Respondents, ids[i])
		}
		for j, d := range dims {
			var sum float64
			for _, i := range m {
				sum += rows[i][j]
			}
			p.Means = append(p.Means, DimensionMean{DimensionID: d, Mean: sum / float64(len(m))})
		}
		hi, lo := p.Means[0], p.Means[0]
		for _, dm := range p.Means[1:] {
			if dm.Mean > hi.Mean {
				hi = dm
			}
			if dm.Mean < lo.Mean {
				lo = dm
			}
		}
		p.Strongest, p.Weakest = hi.DimensionID, lo.DimensionID
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size > out[j].Size
		}
		return out[i].Respondents[0] < out[j].Respondents[0]
	})
	for i := range out {
		out[i].ID = i + 1
	}
	return out
}
