// Package chunk splits document content into overlapping, roughly
// token-sized pieces for embedding and lexical indexing.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/hearth-ai/assistant/pkg/knowledge/thai"
	"github.com/hearth-ai/assistant/pkg/models"
)

const (
	targetTokens  = 750
	overlapTokens = 100
	minOverlap    = 50
	maxOverlap    = 150
)

// Splitter turns document content into chunks. A single Splitter is safe
// for concurrent use.
type Splitter struct {
	Thai  *thai.Client // optional; nil falls back to the whitespace scanner
	Model string       // embedding_model tag stamped on every chunk
}

// Split divides content into chunks targeting ~750 tokens with ~100-token
// overlap (clamped to [50,150]), cutting on word boundaries only. Chunk IDs
// are sha256(document_id, index, content)[:16] so re-chunking identical
// content reproduces identical ids.
func (s *Splitter) Split(ctx context.Context, documentID, content string, thaiHint bool) ([]models.Chunk, error) {
	words, err := s.words(ctx, content, thaiHint)
	if err != nil {
		return nil, fmt.Errorf("split words for document %s: %w", documentID, err)
	}
	if len(words) == 0 {
		return nil, nil
	}

	overlap := overlapTokens
	if overlap < minOverlap {
		overlap = minOverlap
	}
	if overlap > maxOverlap {
		overlap = maxOverlap
	}
	if overlap >= targetTokens {
		overlap = targetTokens / 2
	}

	var pieces []string
	for start := 0; start < len(words); {
		end := start + targetTokens
		if end > len(words) {
			end = len(words)
		}
		pieces = append(pieces, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
		start = end - overlap
	}

	chunks := make([]models.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = models.Chunk{
			ID:             chunkID(documentID, i, p),
			DocumentID:     documentID,
			Index:          i,
			Total:          len(pieces),
			Content:        p,
			TokenCount:     len(strings.Fields(p)),
			EmbeddingModel: s.Model,
		}
	}
	return chunks, nil
}

// words tokenizes content into the flat word list Split windows over. Thai
// segments (detected by thaiHint, since Thai script carries no whitespace
// between words) are delegated to the sidecar; everything else is split on
// whitespace alone, with no paragraph or sentence preference.
func (s *Splitter) words(ctx context.Context, content string, thaiHint bool) ([]string, error) {
	if thaiHint && s.Thai != nil {
		segmented, err := s.Thai.Segment(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("thai segmentation: %w", err)
		}
		return segmented, nil
	}
	return scanWords(content), nil
}

func scanWords(content string) []string {
	return strings.FieldsFunc(content, func(r rune) bool {
		return unicode.IsSpace(r)
	})
}

func chunkID(documentID string, index int, content string) string {
	h := sha256.New()
	h.Write([]byte(documentID))
	h.Write([]byte{0})
	h.Write([]byte(fmt.Sprintf("%d", index)))
	h.Write([]byte{0})
	h.Write([]byte(content))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}
