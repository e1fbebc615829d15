package analytics

import (
	"time"

	"go.uber.org/zap"

	"salescrm/api/internal/store"
)

type TaskLoad struct {
	Open     int `json:"open"`
	Overdue  int `json:"overdue"`
	DueToday int `json:"dueToday"`
}

type Dashboard struct {
	GeneratedAt time.Time       `json:"generatedAt"`
	Summary     Summary         `json:"summary"`
	Stages      []StageBucket   `json:"stages"`
	Pipeline    []MonthBucket   `json:"pipeline"`
	Revenue     []MonthBucket   `json:"revenue"`
	Funnel      []Conversion    `json:"funnel"`
	Assignees   []AssigneeStats `json:"assignees"`
	Tasks       TaskLoad        `json:"tasks"`
}

// BuildDashboard combines every aggregate over the same snapshot.
func BuildDashboard(users []store.User, deals []store.Deal, tasks []store.Task, now time.Time, months int, logger *zap.Logger) Dashboard {
	return Dashboard{
		GeneratedAt: now,
		Summary:     Summarize(deals),
		Stages:      StageBreakdown(deals),
		Pipeline:    DealsByMonth(deals, now, months),
		Revenue:     RevenueByMonth(deals, now, months),
		Funnel:      Funnel(deals, nil),
		Assignees:   AssigneeRollup(users, deals, tasks, logger),
		Tasks:       TaskWorkload(tasks, now),
	}
}

// TaskWorkload counts open tasks and how many are overdue or due today in
// now's location. Tasks without a due date are open but neither.
func TaskWorkload(tasks []store.Task, now time.Time) TaskLoad {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	tomorrow := today.AddDate(0, 0, 1)

	var load TaskLoad
	for _, task := range tasks {
		if task.Status.Done() {
			continue
		}
		load.Open++
		if task.DueDate.IsZero() {
			continue
		}
		due := task.DueDate.Time.In(loc)
		switch {
		case due.Before(today):
			load.Overdue++
		case due.Before(tomorrow):
			load.DueToday++
		}
	}
	return load
}
