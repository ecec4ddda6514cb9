package tenable

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/headshot/internal/filter"
	"github.com/joshsymonds/headshot/internal/models"
	"github.com/joshsymonds/headshot/pkg/logger"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(ClientConfig{
		BaseURL:      server.URL,
		AccessKey:    "test-access",
		SecretKey:    "test-secret",
		PageSize:     100,
		PollInterval: 5 * time.Millisecond,
		Logger:       logger.NewMockLogger(),
	})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestFetchPagesThroughExportChunks(t *testing.T) {
	exportUUID := uuid.New().String()
	var statusPolls atomic.Int32
	var exportReq exportRequest

	mux := http.NewServeMux()
	mux.HandleFunc("POST /vulns/export", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "accessKey=test-access; secretKey=test-secret", r.Header.Get("X-ApiKeys"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&exportReq))
		writeJSON(t, w, exportResponse{ExportUUID: exportUUID})
	})
	mux.HandleFunc("GET /vulns/export/"+exportUUID+"/status", func(w http.ResponseWriter, _ *http.Request) {
		// First poll still processing, then finished with two chunks.
		if statusPolls.Add(1) == 1 {
			writeJSON(t, w, exportStatus{Status: "PROCESSING"})
			return
		}
		writeJSON(t, w, exportStatus{Status: "FINISHED", ChunksAvailable: []int{2, 1}})
	})
	mux.HandleFunc("GET /vulns/export/"+exportUUID+"/chunks/1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []map[string]any{{
			"asset":    map[string]any{"uuid": "asset-a"},
			"plugin":   map[string]any{"id": 44871, "name": "ADFS Detection", "family": "Windows"},
			"severity": "Critical",
			"state":    "open",
			"output":   "Active Directory Federation Services detected",
		}})
	})
	mux.HandleFunc("GET /vulns/export/"+exportUUID+"/chunks/2", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, []map[string]any{
			{
				"asset":    map[string]any{"uuid": "asset-b"},
				"plugin":   map[string]any{"id": 100, "family": "Databases"},
				"severity": "critical",
				"state":    "OPEN",
			},
			{
				// No asset uuid: dropped.
				"plugin":   map[string]any{"id": 101, "family": "Databases"},
				"severity": "critical",
				"state":    "OPEN",
			},
		})
	})

	client := testClient(t, mux)
	criteria := filter.Criteria{
		States:     []string{models.StateOpen},
		Severities: []string{models.SeverityCritical},
	}

	first, token, err := client.Fetch(context.Background(), criteria, "")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 44871, first[0].PluginID)
	assert.Equal(t, models.SeverityCritical, first[0].Severity, "severity normalized")
	assert.Equal(t, models.StateOpen, first[0].State, "state normalized")
	assert.Equal(t, "asset-a", first[0].AssetUUID)
	require.NotEmpty(t, token)

	second, token, err := client.Fetch(context.Background(), criteria, token)
	require.NoError(t, err)
	require.Len(t, second, 1, "record without asset uuid is dropped")
	assert.Equal(t, "asset-b", second[0].AssetUUID)
	assert.Empty(t, token, "stream exhausted")

	// Coarse filters and page size forwarded to the platform.
	assert.Equal(t, 100, exportReq.NumAssets)
	require.NotNil(t, exportReq.Filters)
	assert.Equal(t, []string{models.StateOpen}, exportReq.Filters.State)
	assert.Equal(t, []string{models.SeverityCritical}, exportReq.Filters.Severity)

	assert.GreaterOrEqual(t, statusPolls.Load(), int32(2), "polled until finished")
}

func TestFetchEmptyExport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /vulns/export", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, exportResponse{ExportUUID: "exp-empty"})
	})
	mux.HandleFunc("GET /vulns/export/exp-empty/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, exportStatus{Status: "FINISHED"})
	})

	client := testClient(t, mux)
	findings, token, err := client.Fetch(context.Background(), filter.Criteria{}, "")
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Empty(t, token)
}

func TestFetchExportError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /vulns/export", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, exportResponse{ExportUUID: "exp-err"})
	})
	mux.HandleFunc("GET /vulns/export/exp-err/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, exportStatus{Status: "ERROR"})
	})

	client := testClient(t, mux)
	_, _, err := client.Fetch(context.Background(), filter.Criteria{}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ended in state ERROR")
}

func TestFetchMalformedPageToken(t *testing.T) {
	client := testClient(t, http.NewServeMux())
	_, _, err := client.Fetch(context.Background(), filter.Criteria{}, "not-a-token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed page token")
}

func TestResolveOrCreateExisting(t *testing.T) {
	var created atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+attributesPath, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, attributeList{Attributes: []attributeDefinition{
			{ID: "attr-1", Name: "Exposure"},
			{ID: "attr-2", Name: "Owner"},
		}})
	})
	mux.HandleFunc("POST "+attributesPath, func(w http.ResponseWriter, _ *http.Request) {
		created.Add(1)
		writeJSON(t, w, attributeList{})
	})

	client := testClient(t, mux)
	id, didCreate, err := client.ResolveOrCreate(context.Background(), "Exposure", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "attr-1", id)
	assert.False(t, didCreate)
	assert.Zero(t, created.Load(), "existing attribute must not be re-created")
}

func TestResolveOrCreateCreates(t *testing.T) {
	var createReq attributeCreateRequest

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+attributesPath, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, attributeList{})
	})
	mux.HandleFunc("POST "+attributesPath, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&createReq))
		writeJSON(t, w, attributeList{Attributes: []attributeDefinition{
			{ID: "attr-new", Name: "Exposure"},
		}})
	})

	client := testClient(t, mux)
	id, didCreate, err := client.ResolveOrCreate(context.Background(), "Exposure", "Tagged by headshot")
	require.NoError(t, err)
	assert.Equal(t, "attr-new", id)
	assert.True(t, didCreate)

	require.Len(t, createReq.Attributes, 1)
	assert.Equal(t, "Exposure", createReq.Attributes[0].Name)
	assert.Equal(t, "Tagged by headshot", createReq.Attributes[0].Description)
}

func TestAssignPerAssetOutcomes(t *testing.T) {
	var requests []string

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/v3/assets/{asset}/attributes", func(w http.ResponseWriter, r *http.Request) {
		asset := r.PathValue("asset")
		requests = append(requests, asset)

		var req attributeAssignRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Attributes, 1)
		assert.Equal(t, "attr-1", req.Attributes[0].ID)
		assert.Equal(t, "critical-windows", req.Attributes[0].Value)

		if asset == "asset-bad" {
			http.Error(w, `{"error":"asset not found"}`, http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	client := testClient(t, mux)
	outcome, err := client.Assign(context.Background(), "attr-1",
		[]string{"asset-a", "asset-bad", "asset-b"}, "critical-windows")
	require.NoError(t, err)

	assert.Equal(t, []string{"asset-a", "asset-b"}, outcome.Succeeded)
	assert.Equal(t, []string{"asset-bad"}, outcome.Failed)
	assert.Equal(t, []string{"asset-a", "asset-bad", "asset-b"}, requests)
}

func TestAssignStopsOnCanceledContext(t *testing.T) {
	client := testClient(t, http.NewServeMux())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := client.Assign(ctx, "attr-1", []string{"asset-a"}, "v")
	require.Error(t, err)
	assert.Empty(t, outcome.Succeeded)
}

func TestAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+attributesPath, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
	})

	client := testClient(t, mux)
	_, _, err := client.ResolveOrCreate(context.Background(), "Exposure", "")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "403")
}

func TestPageTokenRoundTrip(t *testing.T) {
	token := buildPageToken("exp-1", []int{2, 3, 10})
	exportUUID, chunks, err := parsePageToken(token)
	require.NoError(t, err)
	assert.Equal(t, "exp-1", exportUUID)
	assert.Equal(t, []int{2, 3, 10}, chunks)

	assert.Empty(t, buildPageToken("exp-1", nil))

	for _, bad := range []string{"", "exp-1|", "|1", "exp-1|x"} {
		_, _, err := parsePageToken(bad)
		assert.Error(t, err, fmt.Sprintf("token %q", bad))
	}
}
