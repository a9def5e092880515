package fingerprint

import (
	"strings"
	"testing"

	"github.com/ppiankov/aidigest/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	got := Normalize("  OpenAI Ships <b>GPT-6</b>!! ", "<p>Faster,\tcheaper.</p>\n\n")
	assert.Equal(t, "openai ships gpt6 faster cheaper", got)
}

func TestOf_WhitespaceAndPunctuationVariants(t *testing.T) {
	a := model.Article{Title: "New model released", Body: "It is fast and cheap."}
	b := model.Article{Title: "New   model released!", Body: "  It is <em>fast</em>\n and cheap "}
	c := model.Article{Title: "New model released", Body: "It is slow and cheap."}

	fa := Of(a)
	assert.Equal(t, fa, Of(b))
	assert.NotEqual(t, fa, Of(c))
	assert.True(t, strings.HasPrefix(fa.String(), Version+":"))
	assert.Len(t, fa.String(), len(Version)+1+32)

	// deterministic across calls
	for i := 0; i < 10; i++ {
		require.Equal(t, fa, Of(a))
	}
}

func TestSimHash(t *testing.T) {
	assert.Equal(t, uint64(0), SimHash("", 3))

	text := "the quick brown fox jumps over the lazy dog near the river bank"
	assert.Equal(t, SimHash(text, 3), SimHash(text, 3))
	assert.Equal(t, 0, Hamming(SimHash(text, 3), SimHash(text, 3)))

	// short text collapses to one shingle, k <= 0 treated as 1
	assert.Equal(t, SimHash("two words", 3), SimHash("two words", 3))
	assert.NotPanics(t, func() { SimHash("a b c", 0) })
}

func TestHamming(t *testing.T) {
	assert.Equal(t, 0, Hamming(5, 5))
	assert.Equal(t, 64, Hamming(0, ^uint64(0)))
	assert.Equal(t, 2, Hamming(0b1010, 0b0000))
}
