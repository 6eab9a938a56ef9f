package command

import (
	"context"
	"log/slog"
	"strings"

	"github.com/coachlab/extension-tracker/internal/domain/decision"
	"github.com/coachlab/extension-tracker/internal/domain/milestone"
	"github.com/coachlab/extension-tracker/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPSERT DECISION COMMAND
// Records the hearing and examination outcome for one student and cycle.
// ══════════════════════════════════════════════════════════════════════════════

// UpsertDecisionCommand contains the data needed to write a decision.
type UpsertDecisionCommand struct {
	// StudentID is the business key (学籍番号).
	StudentID string `json:"studentId" validate:"notblank,max=64"`

	// Cycle is 1 (months 4/5) or 2 (months 10/11).
	Cycle milestone.Cycle `json:"cycle" validate:"oneof=1 2"`

	// Decision is the writable payload. Missing fields reset to empty.
	Decision decision.Input `json:"decision"`
}

// UpsertDecisionHandler handles UpsertDecisionCommand.
type UpsertDecisionHandler struct {
	repo      decision.Repository
	validator *Validator
	logger    *slog.Logger
}

// NewUpsertDecisionHandler creates a new handler.
func NewUpsertDecisionHandler(repo decision.Repository, v *Validator, logger *slog.Logger) *UpsertDecisionHandler {
	if v == nil {
		v = NewValidator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UpsertDecisionHandler{
		repo:      repo,
		validator: v,
		logger:    logger.With("component", "upsert_decision"),
	}
}

// Handle validates the command and upserts the decision.
func (h *UpsertDecisionHandler) Handle(ctx context.Context, cmd UpsertDecisionCommand) (*decision.Decision, error) {
	cmd.StudentID = strings.TrimSpace(cmd.StudentID)

	if err := h.validator.Struct(cmd); err != nil {
		return nil, err
	}

	d, err := h.repo.Upsert(ctx, cmd.StudentID, cmd.Cycle, cmd.Decision)
	if err != nil {
		if shared.IsValidation(err) {
			return nil, err
		}
		return nil, shared.WrapError("decision", "Upsert", shared.ErrServiceUnavailable, "failed to save decision", err)
	}

	h.logger.Info("decision saved",
		"student_id", d.StudentID,
		"cycle", int(d.Cycle),
		"certainty", d.ExtensionCertainty,
		"result", d.ExaminationResult,
	)

	return d, nil
}
