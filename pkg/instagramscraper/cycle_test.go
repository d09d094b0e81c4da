package instagramscraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialscrape/engine/pkg/dbx"
	"github.com/socialscrape/engine/pkg/instagramapi"
)

func TestRunRelatedProfilesOnce_EnqueuesDiscoveredCreators(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"discovered1"},{"id":"discovered2"},{"id":"source"}]`))
	}))
	defer srv.Close()

	api := instagramapi.New(srv.Client(), srv.URL, "key", "host", 1000)
	creators := dbx.NewInMemoryCreatorRepository()
	require.NoError(t, creators.Upsert(context.Background(), dbx.Creator{IGUserID: "source", ReviewStatus: "ok"}))

	processor := NewProcessor(api, creators, dbx.NewInMemoryIGContentRepository(), nil, false, ViralThresholds{})
	c := New(processor, creators, Config{RelatedProfiles: true})

	c.runRelatedProfilesOnce(context.Background(), "source")

	got1, err := creators.Load(context.Background(), "discovered1")
	require.NoError(t, err)
	assert.Equal(t, "pending", got1.ReviewStatus)

	got2, err := creators.Load(context.Background(), "discovered2")
	require.NoError(t, err)
	assert.Equal(t, "pending", got2.ReviewStatus)

	// The source creator itself must not be re-enqueued as a stub.
	gotSource, err := creators.Load(context.Background(), "source")
	require.NoError(t, err)
	assert.Equal(t, "ok", gotSource.ReviewStatus)

	marked, err := creators.Load(context.Background(), "source")
	require.NoError(t, err)
	assert.True(t, marked.RelatedCreatorsProcessed)
}
