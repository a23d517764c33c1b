// Package memory provides the long-term memory collaborator of an agent run.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	xerrors "Agent-Arena/internal/errors"
)

// Tags used by the agent loop.
const (
	TagUserPrompt = "user_prompt"
	TagAction     = "action"
)

// Hit is one search result.
type Hit struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Service stores observations per run and retrieves the most relevant ones.
type Service interface {
	Add(ctx context.Context, content, runID, tag string) error
	Search(ctx context.Context, query, runID string, k int) ([]Hit, error)
}

type entry struct {
	content string
	tag     string
	terms   map[string]struct{}
	seq     uint64
}

type runMemory struct {
	mu      sync.Mutex
	entries []entry
	next    uint64
}

// LocalStore is an in-process Service. It keeps at most maxEntries per run
// and evicts the least recently used runs beyond maxRuns.
type LocalStore struct {
	runs       *lru.Cache[string, *runMemory]
	maxEntries int
	mu         sync.Mutex
}

const (
	defaultMaxRuns    = 256
	defaultMaxEntries = 500
)

// NewLocalStore creates a LocalStore; non-positive limits use defaults.
func NewLocalStore(maxRuns, maxEntries int) (*LocalStore, error) {
	if maxRuns <= 0 {
		maxRuns = defaultMaxRuns
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	cache, err := lru.New[string, *runMemory](maxRuns)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create memory cache")
	}
	return &LocalStore{runs: cache, maxEntries: maxEntries}, nil
}

func (s *LocalStore) run(runID string) *runMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rm, ok := s.runs.Get(runID); ok {
		return rm
	}
	rm := &runMemory{}
	s.runs.Add(runID, rm)
	return rm
}

// Add implements Service.
func (s *LocalStore) Add(_ context.Context, content, runID, tag string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if runID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "memory run id is empty")
	}
	rm := s.run(runID)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.next++
	rm.entries = append(rm.entries, entry{
		content: content,
		tag:     tag,
		terms:   terms(content + " " + tag),
		seq:     rm.next,
	})
	if over := len(rm.entries) - s.maxEntries; over > 0 {
		rm.entries = append(rm.entries[:0:0], rm.entries[over:]...)
	}
	return nil
}

// Search implements Service. The score is the share of query terms found in
// an entry; entries without any shared term are not returned.
func (s *LocalStore) Search(_ context.Context, query, runID string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	want := terms(query)
	if len(want) == 0 {
		return nil, nil
	}
	rm, ok := s.peek(runID)
	if !ok {
		return nil, nil
	}

	type scored struct {
		hit Hit
		seq uint64
	}
	rm.mu.Lock()
	results := make([]scored, 0, len(rm.entries))
	for _, e := range rm.entries {
		matched := 0
		for term := range want {
			if _, ok := e.terms[term]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		results = append(results, scored{
			hit: Hit{Content: e.content, Score: float64(matched) / float64(len(want))},
			seq: e.seq,
		})
	}
	rm.mu.Unlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].hit.Score == results[j].hit.Score {
			return results[i].seq > results[j].seq
		}
		return results[i].hit.Score > results[j].hit.Score
	})
	if len(results) > k {
		results = results[:k]
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, r.hit)
	}
	return hits, nil
}

func (s *LocalStore) peek(runID string) (*runMemory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs.Get(runID)
}

// Forget drops everything stored for a run.
func (s *LocalStore) Forget(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs.Remove(runID)
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "for": {}, "to": {}, "of": {},
	"in": {}, "on": {}, "is": {}, "it": {}, "with": {}, "at": {}, "by": {},
}

func terms(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

var _ Service = (*LocalStore)(nil)
