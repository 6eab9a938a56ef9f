package query

import (
	"context"
	"strings"

	"github.com/coachlab/extension-tracker/internal/domain/decision"
	"github.com/coachlab/extension-tracker/internal/domain/milestone"
	"github.com/coachlab/extension-tracker/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DECISION QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// DecisionsHandler читает решения из хранилища.
type DecisionsHandler struct {
	repo decision.Repository
}

// NewDecisionsHandler создаёт обработчик.
func NewDecisionsHandler(repo decision.Repository) *DecisionsHandler {
	return &DecisionsHandler{repo: repo}
}

// Get возвращает решение или nil, если его ещё нет.
func (h *DecisionsHandler) Get(ctx context.Context, studentID string, cycle milestone.Cycle) (*decision.Decision, error) {
	studentID = strings.TrimSpace(studentID)
	if err := decision.ValidateKey(studentID, cycle); err != nil {
		return nil, err
	}

	d, err := h.repo.Get(ctx, studentID, cycle)
	if err != nil {
		return nil, shared.WrapError("decision", "Get", shared.ErrServiceUnavailable, "failed to load decision", err)
	}
	return d, nil
}

// BulkGet возвращает существующие решения по списку студентов.
// Пустой список (после удаления пустых и повторов) - ошибка валидации.
func (h *DecisionsHandler) BulkGet(ctx context.Context, studentIDs []string, cycle milestone.Cycle) (map[string]*decision.Decision, error) {
	ids := decision.UniqueIDs(studentIDs)
	if len(ids) == 0 {
		return nil, shared.ErrEmptyStudentIDs
	}
	if !cycle.IsValid() {
		return nil, shared.ErrInvalidCycle
	}

	found, err := h.repo.BulkGet(ctx, ids, cycle)
	if err != nil {
		return nil, shared.WrapError("decision", "BulkGet", shared.ErrServiceUnavailable, "failed to load decisions", err)
	}
	if found == nil {
		found = make(map[string]*decision.Decision)
	}
	return found, nil
}
