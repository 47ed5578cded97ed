// Package memory defines the optional long-term-memory collaborator
// hook surface and two implementations: a no-op default and a
// deterministic hash-embedding version selected by any MEMORY_MODE
// other than off. Neither implementation is a real vector database —
// persistence is the lightweight MemoryItem table, not a vector index.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"math"
	"sort"

	"github.com/suPer8Hu/worldline/internal/store"
)

// Collaborator is the opaque hook surface the runner calls into around
// each round. Failures are swallowed by callers: a broken collaborator
// degrades to empty snippets, never aborts a round.
type Collaborator interface {
	RetrieveContext(ctx context.Context, sessionID, branchID, queryText string, maxSnippets, maxChars int) ([]string, error)
	OnMessagePersisted(ctx context.Context, sessionID, branchID string, message store.TimelineMessage) error
	OnMessageDeleted(ctx context.Context, sessionID, branchID, messageID string) error
	OnFork(ctx context.Context, sessionID, sourceBranchID, newBranchID string, cutSeq int) error
}

type NoopCollaborator struct{}

func (NoopCollaborator) RetrieveContext(context.Context, string, string, string, int, int) ([]string, error) {
	return nil, nil
}
func (NoopCollaborator) OnMessagePersisted(context.Context, string, string, store.TimelineMessage) error {
	return nil
}
func (NoopCollaborator) OnMessageDeleted(context.Context, string, string, string) error { return nil }
func (NoopCollaborator) OnFork(context.Context, string, string, string, int) error      { return nil }

// DeterministicCollaborator embeds text via a hash-derived fixed
// dimension vector (no network call, fully reproducible) and ranks
// candidates by cosine similarity against the query embedding.
type DeterministicCollaborator struct {
	repo *store.MemoryRepo
	dim  int
}

func NewDeterministicCollaborator(repo *store.MemoryRepo, dim int) *DeterministicCollaborator {
	if dim <= 0 {
		dim = 64
	}
	return &DeterministicCollaborator{repo: repo, dim: dim}
}

func (c *DeterministicCollaborator) RetrieveContext(ctx context.Context, sessionID, branchID, queryText string, maxSnippets, maxChars int) ([]string, error) {
	items, err := c.repo.ListUpToSeq(branchID, math.MaxInt32)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	queryVec := embed(queryText, c.dim)

	type scored struct {
		snippet string
		score   float64
	}
	ranked := make([]scored, 0, len(items))
	for _, it := range items {
		var vec []float64
		if err := json.Unmarshal([]byte(it.Embedding), &vec); err != nil {
			continue
		}
		ranked = append(ranked, scored{snippet: it.Snippet, score: cosineSimilarity(queryVec, vec)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if maxSnippets <= 0 {
		maxSnippets = len(ranked)
	}
	out := make([]string, 0, maxSnippets)
	totalChars := 0
	for _, r := range ranked {
		if len(out) >= maxSnippets {
			break
		}
		if maxChars > 0 && totalChars+len(r.snippet) > maxChars {
			continue
		}
		out = append(out, r.snippet)
		totalChars += len(r.snippet)
	}
	return out, nil
}

func (c *DeterministicCollaborator) OnMessagePersisted(ctx context.Context, sessionID, branchID string, message store.TimelineMessage) error {
	vec := embed(message.Content, c.dim)
	encoded, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	snippet := message.Content
	const maxSnippetLen = 500
	if len(snippet) > maxSnippetLen {
		snippet = snippet[:maxSnippetLen]
	}
	_, err = c.repo.Insert(store.InsertMemoryItemParams{
		SessionID:       sessionID,
		BranchID:        branchID,
		SourceMessageID: message.ID,
		Seq:             message.Seq,
		ContentHash:     contentHash(message.Content),
		Snippet:         snippet,
		Embedding:       string(encoded),
	})
	return err
}

func (c *DeterministicCollaborator) OnMessageDeleted(ctx context.Context, sessionID, branchID, messageID string) error {
	return c.repo.DeleteBySourceMessage(branchID, messageID)
}

func (c *DeterministicCollaborator) OnFork(ctx context.Context, sessionID, sourceBranchID, newBranchID string, cutSeq int) error {
	return c.repo.CloneForFork(sourceBranchID, newBranchID, cutSeq)
}

// Safe wraps a Collaborator so the runner never has to remember to
// catch its errors; failures are logged and swallowed.
type Safe struct {
	Inner Collaborator
}

func (s Safe) RetrieveContext(ctx context.Context, sessionID, branchID, queryText string, maxSnippets, maxChars int) []string {
	snippets, err := s.Inner.RetrieveContext(ctx, sessionID, branchID, queryText, maxSnippets, maxChars)
	if err != nil {
		log.Printf("memory retrieve_context_failed session_id=%s err=%v", sessionID, err)
		return nil
	}
	return snippets
}

func (s Safe) OnMessagePersisted(ctx context.Context, sessionID, branchID string, message store.TimelineMessage) {
	if err := s.Inner.OnMessagePersisted(ctx, sessionID, branchID, message); err != nil {
		log.Printf("memory on_message_persisted_failed session_id=%s err=%v", sessionID, err)
	}
}

func (s Safe) OnMessageDeleted(ctx context.Context, sessionID, branchID, messageID string) {
	if err := s.Inner.OnMessageDeleted(ctx, sessionID, branchID, messageID); err != nil {
		log.Printf("memory on_message_deleted_failed session_id=%s err=%v", sessionID, err)
	}
}

func (s Safe) OnFork(ctx context.Context, sessionID, sourceBranchID, newBranchID string, cutSeq int) {
	if err := s.Inner.OnFork(ctx, sessionID, sourceBranchID, newBranchID, cutSeq); err != nil {
		log.Printf("memory on_fork_failed session_id=%s err=%v", sessionID, err)
	}
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// embed derives a fixed-dimension vector from text by hashing each word
// into a signed bucket. It has no semantic understanding;
// its only job is to be deterministic and stable across restarts.
func embed(text string, dim int) []float64 {
	vec := make([]float64, dim)
	if text == "" {
		return vec
	}
	words := splitWords(text)
	for _, w := range words {
		sum := sha256.Sum256([]byte(w))
		bucket := int(sum[0]) % dim
		sign := 1.0
		if sum[1]%2 == 1 {
			sign = -1.0
		}
		vec[bucket] += sign
	}
	normalize(vec)
	return vec
}

func splitWords(text string) []string {
	words := make([]string, 0, len(text)/4+1)
	start := -1
	for i, r := range text {
		if isWordRune(r) {
			if start == -1 {
				start = i
			}
		} else if start != -1 {
			words = append(words, text[start:i])
			start = -1
		}
	}
	if start != -1 {
		words = append(words, text[start:])
	}
	return words
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r > 127
}

func normalize(vec []float64) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += v * v
	}
	if sumSquares == 0 {
		return
	}
	norm := math.Sqrt(sumSquares)
	for i := range vec {
		vec[i] /= norm
	}
}

func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
