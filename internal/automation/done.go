package automation

import "ticketflow/internal/textnorm"

// doneStatuses are status names treated as finished regardless of the
// tracker's status category. Stored folded.
var doneStatuses = []string{
	"done", "closed", "resolved", "completed", "complete",
	"concluido", "concluida", "finalizado", "finalizada",
	"resolvido", "fechado", "feito", "entregue",
}

// IsDone reports whether a subtask in the given status counts as finished.
func IsDone(statusName, statusCategoryKey string) bool {
	return textnorm.Equal(statusCategoryKey, "done") || textnorm.In(statusName, doneStatuses...)
}
