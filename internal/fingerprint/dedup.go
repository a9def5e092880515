package fingerprint

import (
	"sort"
	"strings"

	"github.com/ppiankov/aidigest/internal/model"
)

// minNearDupWords is the shortest text considered for near-duplicate
// matching; shorter texts only merge on an exact fingerprint.
const minNearDupWords = 8

// Group is a set of articles treated as one story
type Group struct {
	Fingerprint    model.Fingerprint // Smallest member fingerprint; engagement never moves it
	Representative model.Article
	Members        []model.Article // All members including the representative, ID order
}

// Deduplicator merges articles with equal fingerprints, and articles whose
// SimHashes differ by at most MaxHamming bits
type Deduplicator struct {
	MaxHamming  int // 0 disables near-duplicate matching
	ShingleSize int
}

// NewDeduplicator creates a deduplicator with the given threshold
func NewDeduplicator(maxHamming, shingleSize int) *Deduplicator {
	if maxHamming < 0 {
		maxHamming = 0
	}
	if maxHamming > 63 {
		maxHamming = 63
	}
	if shingleSize <= 0 {
		shingleSize = 3
	}
	return &Deduplicator{MaxHamming: maxHamming, ShingleSize: shingleSize}
}

type item struct {
	article model.Article
	fp      model.Fingerprint
	sim     uint64
	words   int
}

// Group partitions articles into duplicate groups. The result is
// independent of input order: groups are ordered by representative ID.
func (d *Deduplicator) Group(articles []model.Article) []Group {
	items := make([]item, len(articles))
	for i, a := range articles {
		norm := Normalize(a.Title, a.Body)
		items[i] = item{
			article: a,
			fp:      FromNormalized(norm),
			sim:     SimHash(norm, d.ShingleSize),
			words:   len(strings.Fields(norm)),
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].article.ID < items[j].article.ID
	})

	uf := newUnionFind(len(items))

	byFP := make(map[model.Fingerprint]int, len(items))
	for i, it := range items {
		if first, ok := byFP[it.fp]; ok {
			uf.union(first, i)
		} else {
			byFP[it.fp] = i
		}
	}

	if d.MaxHamming > 0 {
		d.unionNear(items, uf)
	}

	members := make(map[int][]int)
	for i := range items {
		root := uf.find(i)
		members[root] = append(members[root], i)
	}

	groups := make([]Group, 0, len(members))
	for _, idx := range members {
		g := Group{Members: make([]model.Article, 0, len(idx))}
		best := idx[0]
		key := items[idx[0]].fp
		for _, i := range idx {
			g.Members = append(g.Members, items[i].article)
			if Better(items[i].article, items[best].article) {
				best = i
			}
			if items[i].fp < key {
				key = items[i].fp
			}
		}
		g.Representative = items[best].article
		g.Fingerprint = key
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Representative.ID < groups[j].Representative.ID
	})
	return groups
}

// unionNear links items whose SimHashes are within MaxHamming bits.
// SimHashes are split into MaxHamming+1 bands; by pigeonhole, two hashes
// within the threshold agree on at least one band, so only items sharing a
// band value are compared.
func (d *Deduplicator) unionNear(items []item, uf *unionFind) {
	bands := d.MaxHamming + 1
	width := 64 / bands
	if width == 0 {
		width = 1
	}

	type key struct {
		band  int
		value uint64
	}
	buckets := make(map[key][]int)

	for i, it := range items {
		if it.words < minNearDupWords {
			continue
		}
		for b := 0; b < bands; b++ {
			shift := uint(b * width)
			bw := width
			if b == bands-1 {
				bw = 64 - b*width
			}
			mask := uint64(1)<<uint(bw) - 1
			if bw == 64 {
				mask = ^uint64(0)
			}
			k := key{band: b, value: (it.sim >> shift) & mask}
			for _, j := range buckets[k] {
				if Hamming(items[j].sim, it.sim) <= d.MaxHamming {
					uf.union(j, i)
				}
			}
			buckets[k] = append(buckets[k], i)
		}
	}
}

// Better reports whether a is a better group representative than b:
// higher engagement, then newer, then smaller ID
func Better(a, b model.Article) bool {
	if sa, sb := a.Engagement.Score(), b.Engagement.Score(); sa != sb {
		return sa > sb
	}
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.After(b.PublishedAt)
	}
	return a.ID < b.ID
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union keeps the smaller index as root so roots are deterministic
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
