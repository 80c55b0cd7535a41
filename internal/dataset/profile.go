package dataset

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ColumnProfile summarizes one column over the sample rows.
type ColumnProfile struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"` // numeric|text|mixed|empty
	NonNull int      `json:"nonNull"`
	Missing int      `json:"missing"`
	Unique  int      `json:"unique"`
	Min     float64  `json:"min,omitempty"`
	Max     float64  `json:"max,omitempty"`
	Mean    float64  `json:"mean,omitempty"`
	Top     []string `json:"top,omitempty"`
}

// Profile computes per-column summaries over the dataset sample. The sample
// is bounded, so figures describe the sample rather than the full file.
func Profile(ds *Dataset) []ColumnProfile {
	if ds == nil {
		return nil
	}
	var keys []string
	if len(ds.Sample) > 0 {
		keys = ds.Sample[0].Keys()
	} else {
		seen := map[string]bool{}
		for _, h := range ds.Headers {
			if !seen[h] {
				seen[h] = true
				keys = append(keys, h)
			}
		}
	}
	out := make([]ColumnProfile, 0, len(keys))
	for _, k := range keys {
		p := ColumnProfile{Name: k, Min: math.Inf(1), Max: math.Inf(-1)}
		var numCnt, txtCnt, n int
		var mean float64
		cats := map[string]int{}
		for _, row := range ds.Sample {
			v, ok := row.Get(k)
			if !ok || (!v.IsNumber() && v.Text() == "") {
				p.Missing++
				continue
			}
			p.NonNull++
			cats[v.Text()]++
			if x, ok := v.Float(); ok && !math.IsInf(x, 0) {
				numCnt++
				n++
				if x < p.Min {
					p.Min = x
				}
				if x > p.Max {
					p.Max = x
				}
				mean += (x - mean) / float64(n)
				continue
			}
			txtCnt++
		}
		p.Unique = len(cats)
		switch {
		case numCnt == 0 && txtCnt == 0:
			p.Kind = "empty"
		case txtCnt == 0:
			p.Kind = "numeric"
			p.Mean = mean
		case numCnt == 0:
			p.Kind = "text"
		default:
			p.Kind = "mixed"
		}
		if p.Kind != "numeric" {
			p.Min, p.Max = 0, 0
			p.Top = topValues(cats, 3)
		}
		out = append(out, p)
	}
	return out
}

func topValues(cats map[string]int, limit int) []string {
	type kv struct {
		v string
		n int
	}
	all := make([]kv, 0, len(cats))
	for v, n := range cats {
		all = append(all, kv{v, n})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].n == all[j].n {
			return all[i].v < all[j].v
		}
		return all[i].n > all[j].n
	})
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.v
	}
	return out
}

// ProfileText renders profiles as compact bullet lines.
func ProfileText(profiles []ColumnProfile) string {
	var b strings.Builder
	for _, p := range profiles {
		b.WriteString(fmt.Sprintf("- %s: %s (non-null %d, missing %d, unique %d)", safeVal(p.Name), p.Kind, p.NonNull, p.Missing, p.Unique))
		switch {
		case p.Kind == "numeric":
			b.WriteString(fmt.Sprintf("; min %.4g, max %.4g, mean %.4g", p.Min, p.Max, p.Mean))
		case len(p.Top) > 0:
			vals := make([]string, len(p.Top))
			for i, t := range p.Top {
				vals[i] = safeVal(t)
			}
			b.WriteString("; e.g. " + strings.Join(vals, " | "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
