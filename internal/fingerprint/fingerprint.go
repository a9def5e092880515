// Package fingerprint derives stable content identities for articles and
// groups near-duplicate stories reported by different sources.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"math/bits"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/ppiankov/aidigest/internal/model"
	"github.com/ppiankov/aidigest/internal/util"
)

// Version prefixes every fingerprint; bump it when Normalize changes so
// persisted cache entries keyed by the old scheme are never reused
const Version = "fp1"

// Normalize reduces title and body to the canonical text fingerprints are
// computed from: markup stripped, lowercased, punctuation and symbols
// removed, whitespace collapsed.
func Normalize(title, body string) string {
	text := util.StripHTML(title + "\n" + body)

	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			space = false
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
		// punctuation, symbols and control runes are dropped
	}
	return strings.TrimSpace(b.String())
}

// Of returns the fingerprint of an article's normalized content
func Of(a model.Article) model.Fingerprint {
	return FromNormalized(Normalize(a.Title, a.Body))
}

// FromNormalized hashes already-normalized text
func FromNormalized(normalized string) model.Fingerprint {
	sum := sha256.Sum256([]byte(normalized))
	return model.Fingerprint(Version + ":" + hex.EncodeToString(sum[:16]))
}

// SimHash computes a 64-bit similarity hash over word shingles of length k.
// Texts shorter than k words hash as a single shingle.
func SimHash(normalized string, k int) uint64 {
	if k <= 0 {
		k = 1
	}
	words := strings.Fields(normalized)
	if len(words) == 0 {
		return 0
	}

	var weights [64]int
	add := func(shingle string) {
		h := xxhash.Sum64String(shingle)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				weights[i]++
			} else {
				weights[i]--
			}
		}
	}

	if len(words) <= k {
		add(strings.Join(words, " "))
	} else {
		for i := 0; i+k <= len(words); i++ {
			add(strings.Join(words[i:i+k], " "))
		}
	}

	var out uint64
	for i, w := range weights {
		if w > 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

// Hamming returns the number of differing bits between two SimHashes
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
