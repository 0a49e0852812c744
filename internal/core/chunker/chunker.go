// Package chunker splits normalized document text into overlapping
// token-bounded segments, the unit of embedding and retrieval.
package chunker

import (
	"github.com/docbot-labs/docbot/internal/models"
)

// runesPerToken is the cheap token estimate used across the pipeline
// (~4 chars ≈ 1 token). Replace with a real tokenizer later to improve
// chunk boundaries.
const runesPerToken = 4

// Chunker produces deterministic, token-bounded chunks with a fixed
// overlap between consecutive chunks. Chunk text is stored verbatim as
// vector-record metadata, so TargetTokens must stay well under the
// store's per-record payload budget.
type Chunker struct {
	targetTokens  int
	overlapTokens int
}

// New creates a chunker. overlap must be smaller than target; invalid
// values fall back to target/10.
func New(targetTokens, overlapTokens int) *Chunker {
	if targetTokens <= 0 {
		targetTokens = 500
	}
	if overlapTokens < 0 || overlapTokens >= targetTokens {
		overlapTokens = targetTokens / 10
	}
	return &Chunker{targetTokens: targetTokens, overlapTokens: overlapTokens}
}

// Chunk splits text into ordered chunks. For identical input the output
// is identical. With chunk size C, overlap O and L tokens of input the
// chunk count is ceil((L-O)/(C-O)) (one chunk when L <= C), no chunk
// exceeds C tokens, and joining every chunk's first C-O tokens plus the
// last chunk's tail reconstructs the input.
func (c *Chunker) Chunk(text string) []models.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	// Fixed-width token cells keep the boundaries deterministic and
	// make the overlap math exact.
	cells := splitCells(runes)
	total := len(cells)
	step := c.targetTokens - c.overlapTokens

	var out []models.Chunk
	for start, idx := 0, 0; ; start, idx = start+step, idx+1 {
		end := start + c.targetTokens
		if end > total {
			end = total
		}
		out = append(out, models.Chunk{
			Index:    idx,
			Text:     joinCells(cells[start:end]),
			TokenCnt: end - start,
		})
		if end == total {
			return out
		}
	}
}

// TokenCount estimates the token length of s using the same unit the
// chunker splits on.
func TokenCount(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + runesPerToken - 1) / runesPerToken
}

func splitCells(runes []rune) [][]rune {
	n := (len(runes) + runesPerToken - 1) / runesPerToken
	cells := make([][]rune, 0, n)
	for i := 0; i < len(runes); i += runesPerToken {
		end := i + runesPerToken
		if end > len(runes) {
			end = len(runes)
		}
		cells = append(cells, runes[i:end])
	}
	return cells
}

func joinCells(cells [][]rune) string {
	var n int
	for _, c := range cells {
		n += len(c)
	}
	out := make([]rune, 0, n)
	for _, c := range cells {
		out = append(out, c...)
	}
	return string(out)
}
