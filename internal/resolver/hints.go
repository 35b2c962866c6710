package resolver

import (
	"math"
	"sort"

	"kbmatch/internal/normalize"
	"kbmatch/internal/provider"
)

type sparseVec = map[int]float64

// hintIndex ranks candidate hints by TF-IDF cosine similarity to the
// query so the prompt carries the most relevant prior mappings instead
// of the first N.
type hintIndex struct {
	vocab map[string]int
	idf   []float64
	docs  []sparseVec
	hints []provider.Hint
}

func buildHintIndex(hints []provider.Hint) *hintIndex {
	if len(hints) == 0 {
		return &hintIndex{vocab: make(map[string]int)}
	}

	vocab := make(map[string]int)
	for _, h := range hints {
		for _, tok := range normalize.Tokenize(h.Text) {
			if _, ok := vocab[tok]; !ok {
				vocab[tok] = len(vocab)
			}
		}
	}

	df := make([]int, len(vocab))
	docs := make([]sparseVec, len(hints))
	n := float64(len(hints))

	for i, h := range hints {
		tf := make(map[int]int)
		for _, tok := range normalize.Tokenize(h.Text) {
			if idx, ok := vocab[tok]; ok {
				tf[idx]++
			}
		}
		vec := make(sparseVec, len(tf))
		for idx, count := range tf {
			vec[idx] = float64(count)
			df[idx]++
		}
		docs[i] = vec
	}

	idf := make([]float64, len(vocab))
	for i, d := range df {
		if d > 0 {
			idf[i] = math.Log(n/float64(d)) + 1.0
		}
	}
	for _, vec := range docs {
		for idx := range vec {
			vec[idx] *= idf[idx]
		}
	}

	return &hintIndex{vocab: vocab, idf: idf, docs: docs, hints: hints}
}

func (idx *hintIndex) topK(query string, k int) []provider.Hint {
	if len(idx.hints) == 0 || k <= 0 {
		return nil
	}
	if len(idx.hints) <= k {
		return idx.hints
	}

	tf := make(map[int]int)
	for _, tok := range normalize.Tokenize(query) {
		if i, ok := idx.vocab[tok]; ok {
			tf[i]++
		}
	}
	qvec := make(sparseVec, len(tf))
	for i, count := range tf {
		qvec[i] = float64(count) * idx.idf[i]
	}
	if len(qvec) == 0 {
		return idx.hints[:k]
	}

	type scored struct {
		index int
		score float64
	}
	results := make([]scored, len(idx.docs))
	for i, dvec := range idx.docs {
		results[i] = scored{i, cosineSim(qvec, dvec)}
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].score > results[b].score
	})
	out := make([]provider.Hint, 0, k)
	for _, r := range results[:k] {
		out = append(out, idx.hints[r.index])
	}
	return out
}

func cosineSim(a, b sparseVec) float64 {
	var dot, normA, normB float64
	for i, va := range a {
		if vb, ok := b[i]; ok {
			dot += va * vb
		}
		normA += va * va
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
