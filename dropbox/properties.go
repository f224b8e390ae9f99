package dropbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
)

// Dropbox caps each property field value; longer values are base64-encoded
// and split across numbered sibling fields plus a count field, and put back
// together on read.
const MaxPropertyLength = 1024

// MaxPropertySplit bounds how many numbered fields a single logical
// property may occupy. The template declares this many fields up front
// because fields cannot be added per file.
const MaxPropertySplit = 10

// Template is a file-properties template owned by the team.
type Template struct {
	TemplateID string
	Name       string
	Fields     []string
}

// SplitFieldNames returns every field name the split encoding of base may
// touch: the base field, the numbered chunks and the count field.
func SplitFieldNames(base string) []string {
	names := []string{base}
	for i := 0; i < MaxPropertySplit; i++ {
		names = append(names, base+strconv.Itoa(i))
	}
	return append(names, base+"_count")
}

// EncodeProperty renders one logical property into wire fields. Values
// within the size cap are stored as-is under the base name; larger values
// are base64-encoded and chunked.
func EncodeProperty(name, value string) (map[string]string, error) {
	if len(value) <= MaxPropertyLength {
		return map[string]string{name: value}, nil
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(value))
	count := (len(encoded) + MaxPropertyLength - 1) / MaxPropertyLength
	if count > MaxPropertySplit {
		return nil, fmt.Errorf("dropbox: property %s needs %d chunks, limit is %d", name, count, MaxPropertySplit)
	}
	fields := make(map[string]string, count+1)
	for i := 0; i < count; i++ {
		start := i * MaxPropertyLength
		end := start + MaxPropertyLength
		if end > len(encoded) {
			end = len(encoded)
		}
		fields[name+strconv.Itoa(i)] = encoded[start:end]
	}
	fields[name+"_count"] = strconv.Itoa(count)
	return fields, nil
}

// DecodeProperty reassembles a logical property from wire fields. The
// presence of the count field marks the split encoding.
func DecodeProperty(name string, fields map[string]string) (string, error) {
	countStr, split := fields[name+"_count"]
	if !split {
		return fields[name], nil
	}
	count, err := strconv.Atoi(countStr)
	if err != nil {
		return "", fmt.Errorf("dropbox: property %s has bad count %q", name, countStr)
	}
	encoded := ""
	for i := 0; i < count; i++ {
		chunk, ok := fields[name+strconv.Itoa(i)]
		if !ok {
			return "", fmt.Errorf("dropbox: property %s missing chunk %d of %d", name, i, count)
		}
		encoded += chunk
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("dropbox: property %s: %w", name, err)
	}
	return string(raw), nil
}

// ListTemplateIDs lists the team's property template ids.
func (c *Client) ListTemplateIDs(ctx context.Context) ([]string, error) {
	var out struct {
		TemplateIDs []string `json:"template_ids"`
	}
	if err := c.rpc(ctx, "/file_properties/templates/list_for_team", nil, &out); err != nil {
		return nil, err
	}
	return out.TemplateIDs, nil
}

type templateBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Fields      []struct {
		Name string `json:"name"`
	} `json:"fields"`
}

// GetTemplate fetches a template's name and declared field names.
func (c *Client) GetTemplate(ctx context.Context, templateID string) (Template, error) {
	var body templateBody
	if err := c.rpc(ctx, "/file_properties/templates/get_for_team", map[string]string{"template_id": templateID}, &body); err != nil {
		return Template{}, err
	}
	tpl := Template{TemplateID: templateID, Name: body.Name}
	for _, f := range body.Fields {
		tpl.Fields = append(tpl.Fields, f.Name)
	}
	return tpl, nil
}

func templateFieldDefs(fields []string) []map[string]string {
	defs := make([]map[string]string, 0, len(fields))
	for _, f := range fields {
		defs = append(defs, map[string]string{
			"name":        f,
			"description": "managed by rdmsync",
			"type":        "string",
		})
	}
	return defs
}

// AddTemplate creates a team property template with the given fields.
func (c *Client) AddTemplate(ctx context.Context, name string, fields []string) (string, error) {
	params := map[string]interface{}{
		"name":        name,
		"description": "per-file timestamp verification data",
		"fields":      templateFieldDefs(fields),
	}
	var out struct {
		TemplateID string `json:"template_id"`
	}
	if err := c.rpc(ctx, "/file_properties/templates/add_for_team", params, &out); err != nil {
		return "", err
	}
	return out.TemplateID, nil
}

// UpdateTemplate appends new fields to an existing template. Existing
// fields cannot be removed through the API.
func (c *Client) UpdateTemplate(ctx context.Context, templateID string, addFields []string) error {
	if len(addFields) == 0 {
		return nil
	}
	params := map[string]interface{}{
		"template_id": templateID,
		"add_fields":  templateFieldDefs(addFields),
	}
	return c.rpc(ctx, "/file_properties/templates/update_for_team", params, nil)
}

// GetFileProperties reads the property group for templateID on one file,
// as a flat field map.
func (c *Client) GetFileProperties(ctx context.Context, path, templateID string) (map[string]string, error) {
	params := map[string]interface{}{
		"path": path,
		"include_property_groups": map[string]interface{}{
			".tag":        "filter_some",
			"filter_some": []string{templateID},
		},
	}
	var out struct {
		PropertyGroups []struct {
			TemplateID string `json:"template_id"`
			Fields     []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"property_groups"`
	}
	if err := c.rpc(ctx, "/files/get_metadata", params, &out); err != nil {
		return nil, err
	}
	fields := map[string]string{}
	for _, group := range out.PropertyGroups {
		if group.TemplateID != templateID {
			continue
		}
		for _, f := range group.Fields {
			fields[f.Name] = f.Value
		}
	}
	return fields, nil
}

// SetFileProperties overwrites the property group for templateID on one
// file with the given fields.
func (c *Client) SetFileProperties(ctx context.Context, path, templateID string, fields map[string]string) error {
	wireFields := make([]map[string]string, 0, len(fields))
	for name, value := range fields {
		wireFields = append(wireFields, map[string]string{"name": name, "value": value})
	}
	params := map[string]interface{}{
		"path": path,
		"property_groups": []map[string]interface{}{
			{"template_id": templateID, "fields": wireFields},
		},
	}
	return c.rpc(ctx, "/file_properties/properties/overwrite", params, nil)
}
