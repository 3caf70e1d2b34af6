package classifier

import (
	"math"
	"regexp"
	"sort"
)

// tokens of two or more word characters
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// SparseVector is a document row: parallel feature indices and weights,
// indices ascending.
type SparseVector struct {
	Indices []int
	Values  []float64
}

// Vectorizer maps normalized text to L2-normalized TF-IDF rows.
type Vectorizer struct {
	Terms []string    `json:"terms"`
	IDF   []float64   `json:"idf"`
	index map[string]int
}

// Tokenize splits normalized text into vocabulary tokens.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(text, -1)
}

// FitVectorizer learns a vocabulary of at most maxFeatures terms, chosen by
// corpus frequency (ties alphabetical), with smoothed IDF weights.
func FitVectorizer(docs []string, maxFeatures int) (*Vectorizer, error) {
	if len(docs) == 0 {
		return nil, ErrNoData
	}

	counts := make(map[string]int)
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, tok := range Tokenize(doc) {
			counts[tok]++
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}
	if len(counts) == 0 {
		return nil, ErrEmptyVocabulary
	}

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if maxFeatures > 0 && len(terms) > maxFeatures {
		terms = terms[:maxFeatures]
	}
	// feature order is alphabetical so artifacts are stable
	sort.Strings(terms)

	n := float64(len(docs))
	idf := make([]float64, len(terms))
	for i, term := range terms {
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	v := &Vectorizer{Terms: terms, IDF: idf}
	v.buildIndex()
	return v, nil
}

func (v *Vectorizer) buildIndex() {
	v.index = make(map[string]int, len(v.Terms))
	for i, term := range v.Terms {
		v.index[term] = i
	}
}

// Features returns the vocabulary size.
func (v *Vectorizer) Features() int {
	return len(v.Terms)
}

// Transform converts one document into a TF-IDF row. Unknown tokens are
// ignored; a document with no known tokens yields an empty row.
func (v *Vectorizer) Transform(doc string) SparseVector {
	tf := make(map[int]float64)
	for _, tok := range Tokenize(doc) {
		if i, ok := v.index[tok]; ok {
			tf[i]++
		}
	}

	row := SparseVector{
		Indices: make([]int, 0, len(tf)),
		Values:  make([]float64, 0, len(tf)),
	}
	for i := range tf {
		row.Indices = append(row.Indices, i)
	}
	sort.Ints(row.Indices)

	var norm float64
	for _, i := range row.Indices {
		w := tf[i] * v.IDF[i]
		row.Values = append(row.Values, w)
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for k := range row.Values {
			row.Values[k] /= norm
		}
	}

	return row
}

// TransformAll converts a batch of documents.
func (v *Vectorizer) TransformAll(docs []string) []SparseVector {
	rows := make([]SparseVector, len(docs))
	for i, doc := range docs {
		rows[i] = v.Transform(doc)
	}
	return rows
}
