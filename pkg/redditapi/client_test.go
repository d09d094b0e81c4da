package redditapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_About_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := New(srv.Client())
	body, err := c.get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{}}`, string(body))
}

func TestClient_ClassifiesForbiddenAsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.Client())
	_, err := c.get(context.Background(), srv.URL)
	require.Error(t, err)

	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, CategoryForbidden, classified.Category)
	assert.Equal(t, CategoryForbidden, ClassifyError(err))
}

func TestClient_ClassifiesNotFoundAsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.Client())
	_, err := c.get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, CategoryNotFound, ClassifyError(err))
}

func TestClassifyError_UnclassifiedDefaultsToTransient(t *testing.T) {
	assert.Equal(t, CategoryTransient, ClassifyError(errors.New("boom")))
}
