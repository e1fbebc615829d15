package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeVariantsAgree(t *testing.T) {
	want := Normalize("Closed Won")
	for _, raw := range []string{"closed-won", "closed  won", "  CLOSED_WON ", "Closed - Won", "closed\twon"} {
		assert.Equal(t, want, Normalize(raw), raw)
	}
	assert.Equal(t, "closed won", want)
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, raw := range []string{"", "  ", "Hot-Lead", "in_progress", "Active  Customer", "x"} {
		once := Normalize(raw)
		assert.Equal(t, once, Normalize(once), raw)
	}
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize(" - _ "))
}

func TestIsClosedWon(t *testing.T) {
	assert.True(t, IsClosedWon("Closed Won"))
	assert.True(t, IsClosedWon("closed-won"))
	assert.True(t, IsClosedWon(" closed_won "))
	assert.False(t, IsClosedWon("Closed Lost"))
	assert.False(t, IsClosedWon(""))
	assert.False(t, IsClosedWon("won"))
}

func TestParseStage(t *testing.T) {
	stage, ok := ParseStage("negotiation ")
	require.True(t, ok)
	assert.Equal(t, StageNegotiation, stage)

	stage, ok = ParseStage(" Discovery ")
	assert.False(t, ok)
	assert.Equal(t, Stage("Discovery"), stage)
	assert.Equal(t, StageOther, stage.Bucket())
	assert.Equal(t, StageClosedWon, Stage("closed-won").Bucket())
}

func TestStageClosed(t *testing.T) {
	assert.True(t, Stage("closed lost").Closed())
	assert.True(t, StageClosedWon.Closed())
	assert.False(t, StageProposal.Closed())
}

func TestEnumJSONIsTolerant(t *testing.T) {
	var payload struct {
		Stage    Stage         `json:"stage"`
		Status   ContactStatus `json:"status"`
		Priority TaskPriority  `json:"priority"`
		Task     TaskStatus    `json:"taskStatus"`
		Role     UserRole      `json:"role"`
	}
	err := json.Unmarshal([]byte(`{"stage":"closed-won","status":"hot_lead","priority":null,"taskStatus":"In Progress","role":42}`), &payload)
	require.NoError(t, err)
	assert.Equal(t, StageClosedWon, payload.Stage)
	assert.Equal(t, ContactHotLead, payload.Status)
	assert.Equal(t, TaskPriority(""), payload.Priority)
	assert.Equal(t, TaskInProgress, payload.Task)
	assert.Equal(t, UserRole("42"), payload.Role)
	assert.False(t, payload.Role.Known())

	out, err := json.Marshal(payload.Stage)
	require.NoError(t, err)
	assert.JSONEq(t, `"Closed Won"`, string(out))
}

func TestTaskStatusDone(t *testing.T) {
	assert.True(t, TaskCompleted.Done())
	assert.True(t, TaskStatus("Cancelled").Done())
	assert.False(t, TaskPending.Done())
}

func TestLifecycleActivity(t *testing.T) {
	got, ok := LifecycleActivity(EntityDeal, "deleted")
	require.True(t, ok)
	assert.Equal(t, ActivityDealDeleted, got)

	_, ok = LifecycleActivity(EntityUser, "deleted")
	assert.False(t, ok)
}

func TestAmountDecoding(t *testing.T) {
	cases := map[string]Amount{
		`1000`:       1000,
		`"500"`:      500,
		`" 12.5 "`:   12.5,
		`"1,200.50"`: 0,
		`"abc"`:      0,
		`null`:       0,
		`true`:       0,
		`-20`:        0,
		`{"x":1}`:    0,
	}
	for raw, want := range cases {
		var got Amount
		require.NoError(t, json.Unmarshal([]byte(raw), &got), raw)
		assert.Equal(t, want, got, raw)
	}

	var missing struct {
		Value Amount `json:"value"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{}`), &missing))
	assert.Zero(t, missing.Value)
}

func TestParseAmount(t *testing.T) {
	assert.Equal(t, Amount(7), ParseAmount(7))
	assert.Equal(t, Amount(3.5), ParseAmount(json.Number("3.5")))
	assert.Equal(t, Amount(0), ParseAmount(nil))
	assert.Equal(t, Amount(0), ParseAmount("NaN"))
}

func TestTimeDecoding(t *testing.T) {
	var payload struct {
		Full  Time `json:"full"`
		Date  Time `json:"date"`
		Bad   Time `json:"bad"`
		Null  Time `json:"null"`
		Wrong Time `json:"wrong"`
		Empty Time `json:"empty"`
	}
	err := json.Unmarshal([]byte(`{"full":"2024-03-05T10:00:00Z","date":"2024-03-05","bad":"not a date","null":null,"wrong":17,"empty":""}`), &payload)
	require.NoError(t, err)
	assert.Equal(t, 2024, payload.Full.Year())
	assert.Equal(t, 5, payload.Date.Day())
	assert.True(t, payload.Bad.IsZero())
	assert.True(t, payload.Null.IsZero())
	assert.True(t, payload.Wrong.IsZero())

	assert.True(t, payload.Bad.Invalid)
	assert.True(t, payload.Wrong.Invalid)
	assert.False(t, payload.Null.Invalid)
	assert.False(t, payload.Empty.Invalid)
	assert.False(t, payload.Full.Invalid)
	assert.True(t, payload.Bad.Present())
	assert.False(t, payload.Null.Present())
	assert.True(t, payload.Full.Present())

	out, err := json.Marshal(payload.Bad)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
	assert.Nil(t, payload.Bad.Ptr())
	assert.NotNil(t, payload.Full.Ptr())
}
