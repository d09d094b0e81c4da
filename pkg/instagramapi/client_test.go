package instagramapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestClient_Profile_SendsRapidAPIHeaders(t *testing.T) {
	var gotKey, gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-rapidapi-key")
		gotHost = r.Header.Get("x-rapidapi-host")
		w.Write([]byte(`{"id":"123","username":"demo"}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "my-key", "my-host", 1000)
	raw, err := c.Profile(context.Background(), "demo")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"123","username":"demo"}`, string(raw))
	assert.Equal(t, "my-key", gotKey)
	assert.Equal(t, "my-host", gotHost)
}

func TestClient_Reels_ParsesPagingInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[{"pk":"1"},{"pk":"2"}],"paging_info":{"max_id":"abc","more_available":true}}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "key", "host", 1000)
	page, err := c.Reels(context.Background(), "ig1", 30, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, "abc", page.PagingInfo.MaxID)
	assert.True(t, page.PagingInfo.MoreAvailable)
}

func TestIsEmptyItems(t *testing.T) {
	assert.True(t, isEmptyItems([]byte(`{"items":[]}`)))
	assert.False(t, isEmptyItems([]byte(`{"items":[{"pk":"1"}]}`)))
	assert.False(t, isEmptyItems([]byte(`not json`)))
}

func TestNew_DefaultsRateAndTimeout(t *testing.T) {
	c := New(nil, "https://example.com", "k", "h", 0)
	require.NotNil(t, c.httpClient)
	assert.NotNil(t, c.limiter)
	assert.Equal(t, rate.Limit(55), c.limiter.Limit())
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)
}
