package tenable

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joshsymonds/headshot/internal/filter"
	"github.com/joshsymonds/headshot/internal/models"
)

// The export flow: request an export with coarse filters, poll until the
// platform reports it finished, then download the prepared chunks one per
// Fetch call. The page token carries the export id and the chunks still to
// be downloaded.

const exportStatusFinished = "FINISHED"

type exportRequest struct {
	Filters   *exportFilters `json:"filters,omitempty"`
	NumAssets int            `json:"num_assets,omitempty"`
}

type exportFilters struct {
	State    []string `json:"state,omitempty"`
	Severity []string `json:"severity,omitempty"`
}

type exportResponse struct {
	ExportUUID string `json:"export_uuid"`
}

type exportStatus struct {
	Status          string `json:"status"`
	ChunksAvailable []int  `json:"chunks_available"`
}

type exportVuln struct {
	Asset struct {
		UUID string `json:"uuid"`
	} `json:"asset"`
	Plugin struct {
		Name   string `json:"name"`
		Family string `json:"family"`
		ID     int    `json:"id"`
	} `json:"plugin"`
	Severity string `json:"severity"`
	State    string `json:"state"`
	Output   string `json:"output"`
}

// Fetch implements rules.FindingSource. The first call (empty token)
// initiates an export with the criteria as server-side filters and blocks
// until the export is ready; subsequent calls download the remaining
// chunks.
func (c *Client) Fetch(ctx context.Context, criteria filter.Criteria, pageToken string) ([]models.Finding, string, error) {
	var exportUUID string
	var remaining []int

	if pageToken == "" {
		var err error
		exportUUID, err = c.startExport(ctx, criteria)
		if err != nil {
			return nil, "", err
		}
		remaining, err = c.waitForExport(ctx, exportUUID)
		if err != nil {
			return nil, "", err
		}
		if len(remaining) == 0 {
			return nil, "", nil
		}
	} else {
		var err error
		exportUUID, remaining, err = parsePageToken(pageToken)
		if err != nil {
			return nil, "", err
		}
	}

	chunk := remaining[0]
	findings, err := c.fetchChunk(ctx, exportUUID, chunk)
	if err != nil {
		return nil, "", err
	}

	return findings, buildPageToken(exportUUID, remaining[1:]), nil
}

func (c *Client) startExport(ctx context.Context, criteria filter.Criteria) (string, error) {
	req := exportRequest{NumAssets: c.pageSize}
	if len(criteria.States) > 0 || len(criteria.Severities) > 0 {
		req.Filters = &exportFilters{
			State:    criteria.States,
			Severity: criteria.Severities,
		}
	}

	var resp exportResponse
	if err := c.do(ctx, http.MethodPost, "/vulns/export", req, &resp); err != nil {
		return "", fmt.Errorf("requesting vulnerability export: %w", err)
	}
	if resp.ExportUUID == "" {
		return "", fmt.Errorf("vulnerability export: platform returned no export id")
	}

	c.log.Debug("vulnerability export requested",
		"export_uuid", resp.ExportUUID, "states", criteria.States, "severities", criteria.Severities)
	return resp.ExportUUID, nil
}

// waitForExport polls the export status until the platform has prepared
// all chunks, returning the sorted chunk list.
func (c *Client) waitForExport(ctx context.Context, exportUUID string) ([]int, error) {
	path := fmt.Sprintf("/vulns/export/%s/status", exportUUID)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var status exportStatus
		if err := c.do(ctx, http.MethodGet, path, nil, &status); err != nil {
			return nil, fmt.Errorf("polling export status: %w", err)
		}

		switch status.Status {
		case exportStatusFinished:
			chunks := append([]int(nil), status.ChunksAvailable...)
			sort.Ints(chunks)
			c.log.Debug("vulnerability export ready", "export_uuid", exportUUID, "chunks", len(chunks))
			return chunks, nil
		case "ERROR", "CANCELLED":
			return nil, fmt.Errorf("vulnerability export %s ended in state %s", exportUUID, status.Status)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) fetchChunk(ctx context.Context, exportUUID string, chunk int) ([]models.Finding, error) {
	path := fmt.Sprintf("/vulns/export/%s/chunks/%d", exportUUID, chunk)

	var vulns []exportVuln
	if err := c.do(ctx, http.MethodGet, path, nil, &vulns); err != nil {
		return nil, fmt.Errorf("downloading export chunk %d: %w", chunk, err)
	}

	findings := make([]models.Finding, 0, len(vulns))
	for _, v := range vulns {
		if v.Asset.UUID == "" {
			continue
		}
		findings = append(findings, models.Finding{
			PluginID:     v.Plugin.ID,
			PluginName:   v.Plugin.Name,
			PluginFamily: v.Plugin.Family,
			Severity:     models.NormalizeSeverity(v.Severity),
			State:        models.NormalizeState(v.State),
			Output:       v.Output,
			AssetUUID:    v.Asset.UUID,
		})
	}
	return findings, nil
}

func buildPageToken(exportUUID string, remaining []int) string {
	if len(remaining) == 0 {
		return ""
	}
	parts := make([]string, 0, len(remaining))
	for _, chunk := range remaining {
		parts = append(parts, strconv.Itoa(chunk))
	}
	return exportUUID + "|" + strings.Join(parts, ",")
}

func parsePageToken(token string) (string, []int, error) {
	exportUUID, rest, ok := strings.Cut(token, "|")
	if !ok || exportUUID == "" || rest == "" {
		return "", nil, fmt.Errorf("malformed page token %q", token)
	}
	parts := strings.Split(rest, ",")
	chunks := make([]int, 0, len(parts))
	for _, part := range parts {
		chunk, err := strconv.Atoi(part)
		if err != nil {
			return "", nil, fmt.Errorf("malformed page token %q", token)
		}
		chunks = append(chunks, chunk)
	}
	return exportUUID, chunks, nil
}
