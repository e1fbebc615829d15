package analytics

import (
	"go.uber.org/zap"

	"salescrm/api/internal/domain"
	"salescrm/api/internal/logging"
	"salescrm/api/internal/store"
)

type AssigneeStats struct {
	UserID          string  `json:"userId"`
	Name            string  `json:"name"`
	Deals           int     `json:"deals"`
	WonDeals        int     `json:"wonDeals"`
	WonRevenue      float64 `json:"wonRevenue"`
	Tasks           int     `json:"tasks"`
	CompletedTasks  int     `json:"completedTasks"`
	CompletionRatio float64 `json:"completionRatio"`
	// LowConfidence is set when at least one record was attributed by display
	// name because it carried no assignee id.
	LowConfidence bool `json:"lowConfidence"`
	NameMatches   int  `json:"nameMatches"`
}

type rollup struct {
	rows       []*AssigneeStats
	byID       map[string]*AssigneeStats
	byName     map[string]*AssigneeStats
	unassigned *AssigneeStats
	logger     *zap.Logger
}

// AssigneeRollup groups deals and tasks per user. Records are matched by
// assignee id; only records without an id fall back to exact display-name
// equality, and those matches are flagged and logged. Records matching no
// user are collected into a trailing Unassigned row.
func AssigneeRollup(users []store.User, deals []store.Deal, tasks []store.Task, logger *zap.Logger) []AssigneeStats {
	r := &rollup{
		byID:       make(map[string]*AssigneeStats, len(users)),
		byName:     make(map[string]*AssigneeStats, len(users)),
		unassigned: &AssigneeStats{Name: store.LabelUnassigned},
		logger:     logging.OrNop(logger),
	}
	for _, user := range users {
		row := &AssigneeStats{UserID: user.ID, Name: user.Name}
		r.rows = append(r.rows, row)
		r.byID[user.ID] = row
		if _, taken := r.byName[user.Name]; !taken && user.Name != "" {
			r.byName[user.Name] = row
		}
	}

	for _, deal := range deals {
		row := r.match("deal", deal.ID, deal.AssigneeID, deal.AssigneeName)
		row.Deals++
		if domain.IsClosedWon(string(deal.Stage)) {
			row.WonDeals++
			row.WonRevenue += deal.Value.Float()
		}
	}
	for _, task := range tasks {
		row := r.match("task", task.ID, task.AssigneeID, task.AssigneeName)
		row.Tasks++
		if domain.Normalize(string(task.Status)) == domain.Normalize(string(domain.TaskCompleted)) {
			row.CompletedTasks++
		}
	}

	out := make([]AssigneeStats, 0, len(r.rows)+1)
	for _, row := range r.rows {
		out = append(out, finish(*row))
	}
	if r.unassigned.Deals > 0 || r.unassigned.Tasks > 0 {
		out = append(out, finish(*r.unassigned))
	}
	return out
}

func (r *rollup) match(kind, recordID, assigneeID, assigneeName string) *AssigneeStats {
	if assigneeID != "" {
		if row, ok := r.byID[assigneeID]; ok {
			return row
		}
		return r.unassigned
	}
	if assigneeName == "" || assigneeName == store.LabelUnassigned {
		return r.unassigned
	}
	row, ok := r.byName[assigneeName]
	if !ok {
		return r.unassigned
	}
	row.LowConfidence = true
	row.NameMatches++
	r.logger.Warn("assignee matched by display name",
		zap.String("record_type", kind),
		zap.String("record_id", recordID),
		zap.String("assignee_name", assigneeName),
		zap.String("user_id", row.UserID),
	)
	return row
}

func finish(row AssigneeStats) AssigneeStats {
	if row.Tasks > 0 {
		row.CompletionRatio = float64(row.CompletedTasks) / float64(row.Tasks)
	}
	return row
}
