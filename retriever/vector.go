package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/langdocs/ragchat"
)

const (
	// DefaultK is the number of results returned when Config.K is unset.
	DefaultK = 5
	// DefaultMMRLambda balances relevance against diversity during MMR.
	DefaultMMRLambda = 0.5
)

// Config controls how results are fetched and post-processed.
type Config struct {
	// K is the number of results to return.
	K int
	// ScoreThreshold drops results scoring below it. Zero disables the filter.
	ScoreThreshold float32
	// Filter restricts the search to documents whose metadata matches.
	Filter map[string]any
	// MMR re-ranks a larger candidate pool for diversity before returning K
	// results.
	MMR bool
	// MMRLambda weights relevance over diversity when MMR is enabled.
	MMRLambda float64
	// FetchK is the candidate pool size searched before MMR selection.
	FetchK int
}

// VectorRetriever retrieves documents by vector similarity.
type VectorRetriever struct {
	store  ragchat.VectorStore
	config Config
}

var _ ragchat.Retriever = (*VectorRetriever)(nil)

// NewVectorRetriever creates a retriever over a vector store. Zero config
// fields get defaults: K 5, MMR lambda 0.5, MMR candidate pool 4*K.
func NewVectorRetriever(store ragchat.VectorStore, config Config) *VectorRetriever {
	if config.K <= 0 {
		config.K = DefaultK
	}
	if config.MMRLambda <= 0 || config.MMRLambda > 1 {
		config.MMRLambda = DefaultMMRLambda
	}
	if config.FetchK < config.K {
		config.FetchK = 4 * config.K
	}

	return &VectorRetriever{
		store:  store,
		config: config,
	}
}

// Retrieve returns the K most relevant documents in descending score order.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string) ([]ragchat.SearchResult, error) {
	return r.RetrieveWithK(ctx, query, r.config.K)
}

// RetrieveWithK retrieves up to k documents, overriding the configured K.
func (r *VectorRetriever) RetrieveWithK(ctx context.Context, query string, k int) ([]ragchat.SearchResult, error) {
	if k <= 0 {
		k = r.config.K
	}

	fetch := k
	if r.config.MMR && r.config.FetchK > fetch {
		fetch = r.config.FetchK
	}

	var (
		results []ragchat.SearchResult
		err     error
	)
	if len(r.config.Filter) > 0 {
		results, err = r.store.SearchWithFilter(ctx, query, fetch, r.config.Filter)
	} else {
		results, err = r.store.Search(ctx, query, fetch)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	if r.config.ScoreThreshold > 0 {
		filtered := make([]ragchat.SearchResult, 0, len(results))
		for _, result := range results {
			if result.Score >= r.config.ScoreThreshold {
				filtered = append(filtered, result)
			}
		}
		results = filtered
	}

	if r.config.MMR {
		results = applyMMR(results, k, r.config.MMRLambda)
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Score > results[j].Score
		})
	}

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// applyMMR selects k results by maximal marginal relevance: each round picks
// the candidate with the best balance of retrieval score and dissimilarity
// to the results already selected.
func applyMMR(results []ragchat.SearchResult, k int, lambda float64) []ragchat.SearchResult {
	if len(results) <= k {
		return results
	}

	selected := make([]ragchat.SearchResult, 0, k)
	selected = append(selected, results[0])
	candidates := append([]ragchat.SearchResult(nil), results[1:]...)

	for len(selected) < k && len(candidates) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)

		for i, candidate := range candidates {
			maxSimilarity := 0.0
			for _, chosen := range selected {
				similarity := jaccardSimilarity(candidate.Document.Content, chosen.Document.Content)
				if similarity > maxSimilarity {
					maxSimilarity = similarity
				}
			}

			score := lambda*float64(candidate.Score) - (1-lambda)*maxSimilarity
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		selected = append(selected, candidates[bestIdx])
		candidates = append(candidates[:bestIdx], candidates[bestIdx+1:]...)
	}

	return selected
}

// jaccardSimilarity measures word-set overlap between two contents.
func jaccardSimilarity(a, b string) float64 {
	wordsA := tokenize(a)
	wordsB := tokenize(b)

	intersection := 0
	for word := range wordsA {
		if _, ok := wordsB[word]; ok {
			intersection++
		}
	}

	union := len(wordsA) + len(wordsB) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

func tokenize(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}
