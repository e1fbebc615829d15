package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"salescrm/api/internal/domain"
	"salescrm/api/internal/store"
)

func TestAssigneeRollupCountsOnlyClosedWonRevenue(t *testing.T) {
	users := []store.User{{ID: "u1", Name: "Ana"}, {ID: "u2", Name: "Ben"}}
	deals := []store.Deal{
		{ID: "d1", AssigneeID: "u1", Stage: "Closed Won", Value: 100},
		{ID: "d2", AssigneeID: "u1", Stage: "closed-won", Value: 50},
		{ID: "d3", AssigneeID: "u1", Stage: "CLOSED_WON ", Value: 25},
		{ID: "d4", AssigneeID: "u1", Stage: "Closed Lost", Value: 1000},
		{ID: "d5", AssigneeID: "u1", Stage: "Negotiation", Value: 1000},
		{ID: "d6", AssigneeID: "u2", Stage: "Won", Value: 1000},
	}

	rows := AssigneeRollup(users, deals, nil, nil)
	require.Len(t, rows, 2)
	assert.Equal(t, 5, rows[0].Deals)
	assert.Equal(t, 3, rows[0].WonDeals)
	assert.Equal(t, 175.0, rows[0].WonRevenue)
	assert.Equal(t, 0.0, rows[1].WonRevenue)
	assert.False(t, rows[0].LowConfidence)
}

func TestAssigneeRollupTaskCompletion(t *testing.T) {
	users := []store.User{{ID: "u1", Name: "Ana"}, {ID: "u2", Name: "Ben"}}
	tasks := []store.Task{
		{ID: "t1", AssigneeID: "u1", Status: domain.TaskCompleted},
		{ID: "t2", AssigneeID: "u1", Status: domain.TaskPending},
		{ID: "t3", AssigneeID: "u1", Status: "Completed"},
		{ID: "t4", AssigneeID: "u1", Status: domain.TaskCancelled},
	}

	rows := AssigneeRollup(users, nil, tasks, nil)
	require.Len(t, rows, 2)
	assert.Equal(t, 4, rows[0].Tasks)
	assert.Equal(t, 2, rows[0].CompletedTasks)
	assert.Equal(t, 0.5, rows[0].CompletionRatio)
	assert.Equal(t, 0.0, rows[1].CompletionRatio)
}

func TestAssigneeRollupNameFallbackIsFlaggedAndLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	users := []store.User{{ID: "u1", Name: "Ana Rep"}}
	deals := []store.Deal{
		{ID: "d1", AssigneeName: "Ana Rep", Stage: domain.StageClosedWon, Value: 10},
		{ID: "d2", AssigneeName: "ana rep", Stage: domain.StageClosedWon, Value: 20},
		{ID: "d3", AssigneeID: "u-missing", AssigneeName: "Ana Rep", Stage: domain.StageClosedWon, Value: 40},
	}

	rows := AssigneeRollup(users, deals, nil, logger)
	require.Len(t, rows, 2)

	ana := rows[0]
	assert.Equal(t, 1, ana.Deals)
	assert.Equal(t, 10.0, ana.WonRevenue)
	assert.True(t, ana.LowConfidence)
	assert.Equal(t, 1, ana.NameMatches)

	unassigned := rows[1]
	assert.Equal(t, store.LabelUnassigned, unassigned.Name)
	assert.Equal(t, 2, unassigned.Deals)

	entries := logs.FilterMessage("assignee matched by display name").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "d1", entries[0].ContextMap()["record_id"])
}

func TestAssigneeRollupIDWinsOverName(t *testing.T) {
	users := []store.User{{ID: "u1", Name: "Ana"}, {ID: "u2", Name: "Ben"}}
	deals := []store.Deal{{ID: "d1", AssigneeID: "u2", AssigneeName: "Ana", Stage: domain.StageLead}}

	rows := AssigneeRollup(users, deals, nil, zap.NewNop())
	assert.Equal(t, 0, rows[0].Deals)
	assert.Equal(t, 1, rows[1].Deals)
	assert.False(t, rows[1].LowConfidence)
}
