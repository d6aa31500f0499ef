package harvester

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestAboutEndpoint(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	repo := &fakeRepository{sets: []Set{{Name: "Theses", Spec: "theses"}}}
	srv := httptest.NewServer(repo)
	transport := &http.Transport{}
	client := NewClient(WithDoer(&http.Client{Transport: transport}))

	info, err := AboutEndpoint(context.Background(), client, srv.URL, 5*time.Second)
	transport.CloseIdleConnections()
	srv.Close()

	require.NoError(t, err)
	assert.Equal(t, "Fake", info.Identify.Name)
	assert.Equal(t, "2000-01-01", info.Identify.EarliestDatestamp)
	assert.Equal(t, []Set{{Name: "Theses", Spec: "theses"}}, info.Sets)
	require.Len(t, info.Formats, 1)
	assert.Equal(t, "oai_dc", info.Formats[0].Prefix)
	assert.Empty(t, info.Errors)
}

func TestAboutEndpointAllFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	info, err := AboutEndpoint(context.Background(), NewClient(WithDoer(srv.Client())), srv.URL, 5*time.Second)
	require.Error(t, err)
	assert.Len(t, info.Errors, 3)
}

func TestAboutEndpointNoSetHierarchy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := `<error code="noSetHierarchy">no sets</error>`
		if r.URL.Query().Get("verb") == "Identify" {
			body = `<Identify><repositoryName>Flat</repositoryName></Identify>`
		}
		w.Write([]byte(`<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">` + body + `</OAI-PMH>`))
	}))
	defer srv.Close()

	info, err := AboutEndpoint(context.Background(), NewClient(WithDoer(srv.Client())), srv.URL, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Flat", info.Identify.Name)
	assert.Empty(t, info.Sets)
	// ListMetadataFormats got the same error document.
	assert.Len(t, info.Errors, 1)
}
