package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salescrm/api/internal/analytics"
	"salescrm/api/internal/domain"
	"salescrm/api/internal/store"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","error":"invalid credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"tok-123","userId":"usr_1"}`))
	})
	mux.HandleFunc("/api/deals", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","error":"missing bearer token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[
			{"id":"d1","title":"Big","value":1000,"stage":"Closed Won","updatedDate":"2026-10-02T10:00:00Z"},
			{"id":"d2","title":"Stringy","value":"500","stage":"closed-won","updatedDate":"2026-10-03"},
			{"id":"d3","title":"Broken date","value":200,"stage":"Closed Won","updatedDate":"not a date"}
		]}`))
	})
	mux.HandleFunc("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"t1","title":"Call","status":"completed","assigneeId":"usr_1"}]`))
	})
	mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSnapshotToleratesEnvelopeAndBareArray(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL+"/", "")

	token, err := c.SignIn(context.Background(), "ana@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Deals, 3)
	require.Len(t, snap.Tasks, 1)
	assert.Empty(t, snap.Users)

	assert.Equal(t, domain.Amount(500), snap.Deals[1].Value)
	assert.True(t, snap.Deals[2].UpdatedDate.IsZero())

	now := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	buckets := analytics.RevenueByMonth(snap.Deals, now, 1)
	require.Len(t, buckets, 1)
	assert.Equal(t, 2, buckets[0].Count)
	assert.InDelta(t, 1500, buckets[0].TotalValue, 0.001)
}

func TestAPIError(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL, "wrong")

	_, err := c.ListDeals(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "UNAUTHORIZED", apiErr.Code)

	_, err = c.SignIn(context.Background(), "ana@example.com", "nope")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "invalid credentials", apiErr.Message)
}

func TestDecodeList(t *testing.T) {
	type item struct {
		ID string `json:"id"`
	}
	for name, raw := range map[string]string{
		"bare":     `[{"id":"a"}]`,
		"envelope": ` {"data":[{"id":"a"}],"total":1}`,
	} {
		got, err := DecodeList[item]([]byte(raw))
		require.NoError(t, err, name)
		assert.Equal(t, []item{{ID: "a"}}, got, name)
	}

	empty, err := DecodeList[item]([]byte("null"))
	require.NoError(t, err)
	assert.NotNil(t, empty)

	_, err = DecodeList[item]([]byte(`"nope"`))
	assert.Error(t, err)
}

func TestDecodedDealWithBrokenUpdatedDateIsNotBucketed(t *testing.T) {
	deals, err := DecodeList[store.Deal]([]byte(`[
		{"id":"d1","value":100,"stage":"Lead","updatedDate":"not-a-date","createdDate":"2024-06-02T00:00:00Z"},
		{"id":"d2","value":40,"stage":"Lead","createdDate":"2024-06-03T00:00:00Z"}
	]`))
	require.NoError(t, err)
	require.Len(t, deals, 2)
	assert.True(t, deals[0].UpdatedDate.Invalid)

	now := time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)
	buckets := analytics.DealsByMonth(deals, now, 1)
	require.Len(t, buckets, 1)
	assert.Equal(t, 1, buckets[0].Count)
	assert.Equal(t, 40.0, buckets[0].TotalValue)
}
