// Package snapshot compares the prompt snapshots of two scans.
package snapshot

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/agentguard/prompt-scanner/internal/models"
)

// Chunk types
const (
	ChunkAdded   = "added"
	ChunkRemoved = "removed"
	ChunkEqual   = "equal"
)

// Chunk is one contiguous run of the diff
type Chunk struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Diff describes how the head scan's prompt differs from the base scan's prompt
type Diff struct {
	AgentID    string  `json:"agent_id"`
	BaseScanID string  `json:"base_scan_id"`
	HeadScanID string  `json:"head_scan_id"`
	Changed    bool    `json:"changed"`
	Added      int     `json:"added_chars"`
	Removed    int     `json:"removed_chars"`
	Chunks     []Chunk `json:"chunks"`
}

// Compare diffs base.PromptSnapshot against head.PromptSnapshot.
// Both scans must belong to the same agent.
func Compare(base, head *models.Scan) (*Diff, error) {
	if base.AgentID != head.AgentID {
		return nil, models.NewInvalidState("scans %s and %s belong to different agents", base.ID, head.ID)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(base.PromptSnapshot, head.PromptSnapshot, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	d := &Diff{
		AgentID:    head.AgentID,
		BaseScanID: base.ID,
		HeadScanID: head.ID,
		Chunks:     make([]Chunk, 0, len(diffs)),
	}

	for _, df := range diffs {
		if df.Text == "" {
			continue
		}

		var chunkType string
		switch df.Type {
		case diffmatchpatch.DiffInsert:
			chunkType = ChunkAdded
			d.Added += utf8.RuneCountInString(df.Text)
		case diffmatchpatch.DiffDelete:
			chunkType = ChunkRemoved
			d.Removed += utf8.RuneCountInString(df.Text)
		case diffmatchpatch.DiffEqual:
			chunkType = ChunkEqual
		}

		d.Chunks = append(d.Chunks, Chunk{Type: chunkType, Text: df.Text})
	}

	d.Changed = d.Added > 0 || d.Removed > 0
	return d, nil
}

// Patch renders the diff as a diff-match-patch patch text
func (d *Diff) Patch() string {
	dmp := diffmatchpatch.New()
	diffs := make([]diffmatchpatch.Diff, 0, len(d.Chunks))
	for _, c := range d.Chunks {
		op := diffmatchpatch.DiffEqual
		switch c.Type {
		case ChunkAdded:
			op = diffmatchpatch.DiffInsert
		case ChunkRemoved:
			op = diffmatchpatch.DiffDelete
		}
		diffs = append(diffs, diffmatchpatch.Diff{Type: op, Text: c.Text})
	}
	return dmp.PatchToText(dmp.PatchMake(diffs))
}
