// Package assembler packs finished upload descriptions into a token budget
// for inclusion in a downstream prompt.
package assembler

import (
	"context"
	"fmt"
	"strings"

	"document-context-platform/internal/logger"
	"document-context-platform/models"
)

// Source lists an owner's ready records, newest first by updated_at.
type Source interface {
	ListReady(ctx context.Context, ownerID string) ([]models.UploadRecord, error)
}

type Assembler struct {
	source Source
}

func New(source Source) *Assembler {
	return &Assembler{source: source}
}

// EstimateTokens approximates the token cost of text (1 token per 4 chars,
// the same estimate used when budgeting Gemini calls).
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Context is one assembled prompt fragment. Tokens covers the packed record
// blocks; the count header is informational and not budgeted.
type Context struct {
	Text     string
	Tokens   int
	Included int
}

// Assemble greedily packs ready records, newest first, until the next record
// would exceed remainingBudget, then stops. Newer records always win; older
// ones are silently omitted.
func (a *Assembler) Assemble(ctx context.Context, ownerID string, remainingBudget int) (*Context, error) {
	records, err := a.source.ListReady(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ready records: %w", err)
	}

	var blocks []string
	used := 0
	for _, rec := range records {
		if rec.Description == "" {
			// Ready records always carry a description; treat a miss as a
			// data-integrity warning and skip it.
			logger.Warn("ready record without description, skipping",
				"record_id", rec.ID, "owner_id", ownerID)
			continue
		}

		block := fmt.Sprintf("## %s (%s)\n%s\n\n", rec.Filename, rec.ContentType, rec.Description)
		cost := EstimateTokens(block)
		if used+cost > remainingBudget {
			break
		}
		blocks = append(blocks, block)
		used += cost
	}

	if len(blocks) == 0 {
		return &Context{}, nil
	}

	noun := "files"
	if len(blocks) == 1 {
		noun = "file"
	}
	header := fmt.Sprintf("%d %s in context:\n\n", len(blocks), noun)

	return &Context{
		Text:     header + strings.Join(blocks, ""),
		Tokens:   used,
		Included: len(blocks),
	}, nil
}
