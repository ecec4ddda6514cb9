package tenable

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joshsymonds/headshot/internal/rules"
)

const attributesPath = "/api/v3/assets/attributes"

type attributeDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type attributeList struct {
	Attributes []attributeDefinition `json:"attributes"`
}

type attributeCreateRequest struct {
	Attributes []attributeDefinition `json:"attributes"`
}

type attributeAssignment struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type attributeAssignRequest struct {
	Attributes []attributeAssignment `json:"attributes"`
}

// ResolveOrCreate implements rules.AttributeStore. Attribute names are
// globally unique on the platform, so resolution runs before creation to
// avoid duplicate-definition errors. The returned flag reports whether the
// definition had to be created.
func (c *Client) ResolveOrCreate(ctx context.Context, name, description string) (string, bool, error) {
	var list attributeList
	if err := c.do(ctx, http.MethodGet, attributesPath, nil, &list); err != nil {
		return "", false, fmt.Errorf("listing custom attributes: %w", err)
	}

	for _, attr := range list.Attributes {
		if attr.Name == name {
			c.log.Debug("custom attribute exists", "attribute", name, "attribute_id", attr.ID)
			return attr.ID, false, nil
		}
	}

	req := attributeCreateRequest{
		Attributes: []attributeDefinition{{Name: name, Description: description}},
	}
	var created attributeList
	if err := c.do(ctx, http.MethodPost, attributesPath, req, &created); err != nil {
		return "", false, fmt.Errorf("creating custom attribute %q: %w", name, err)
	}
	if len(created.Attributes) == 0 || created.Attributes[0].ID == "" {
		return "", false, fmt.Errorf("creating custom attribute %q: platform returned no attribute id", name)
	}

	c.log.Info("custom attribute created", "attribute", name, "attribute_id", created.Attributes[0].ID)
	return created.Attributes[0].ID, true, nil
}

// Assign implements rules.AttributeStore. The platform assigns attributes
// per asset, so a batch is submitted as one request per asset with
// per-asset outcomes collected for the caller. Assignment is a set
// operation: re-asserting an existing value succeeds.
func (c *Client) Assign(ctx context.Context, attributeID string, assetUUIDs []string, value string) (rules.AssignOutcome, error) {
	var outcome rules.AssignOutcome

	req := attributeAssignRequest{
		Attributes: []attributeAssignment{{ID: attributeID, Value: value}},
	}

	for _, assetUUID := range assetUUIDs {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		path := fmt.Sprintf("/api/v3/assets/%s/attributes", assetUUID)
		if err := c.do(ctx, http.MethodPut, path, req, nil); err != nil {
			c.log.Warn("assigning attribute to asset failed", "asset", assetUUID, "error", err)
			outcome.Failed = append(outcome.Failed, assetUUID)
			continue
		}
		outcome.Succeeded = append(outcome.Succeeded, assetUUID)
	}

	return outcome, nil
}
