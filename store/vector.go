package store

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultVectorDim is the description vector size used when none is given.
const DefaultVectorDim = 256

// foldText lower-cases s and strips diacritics ("FRIGIDEIRA ANTIADERENTE Ç"
// and "frigideira antiaderente c" fold to the same text).
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// DescriptionVector hashes the character trigrams of each word of text into
// a unit vector of dim buckets. Descriptions that share most of their words
// end up close under cosine distance, whatever the supplier's spelling of
// accents or case. It returns nil when text has no letters or digits.
func DescriptionVector(text string, dim int) []float32 {
	if dim <= 0 {
		dim = DefaultVectorDim
	}
	words := strings.FieldsFunc(foldText(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil
	}

	v := make([]float32, dim)
	h := fnv.New32a()
	for _, w := range words {
		padded := []rune(" " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			h.Reset()
			h.Write([]byte(string(padded[i : i+3])))
			v[h.Sum32()%uint32(dim)]++
		}
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	length := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= length
	}
	return v
}
