package engine

import (
	"bytes"
	"encoding/json"

	"github.com/graymont/easel/internal/model"
)

// ValidateInput normalizes and checks the shape of a raw job payload. The
// payload may be a JSON object or a JSON string containing one. Workflow
// documents are opaque; only top-level presence and shape are checked. Pure
// function, no side effects.
func ValidateInput(raw json.RawMessage) (*model.JobInput, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrMissingInput
	}

	// A string payload must itself parse as structured data.
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, ErrInvalidPayload
		}
		raw = bytes.TrimSpace([]byte(s))
		if len(raw) == 0 {
			return nil, ErrInvalidPayload
		}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, ErrInvalidPayload
	}

	wf, ok := top["workflow"]
	if !ok || isNull(wf) {
		return nil, ErrMissingWorkflow
	}

	workflows, err := normalizeWorkflows(wf)
	if err != nil {
		return nil, err
	}
	if len(workflows) == 0 {
		return nil, ErrNoWorkflows
	}

	in := &model.JobInput{Workflows: workflows}

	if imgRaw, ok := top["images"]; ok && !isNull(imgRaw) {
		images, err := validateImages(imgRaw)
		if err != nil {
			return nil, err
		}
		in.Images = images
	}

	if idRaw, ok := top["inferenceJobId"]; ok && !isNull(idRaw) {
		if err := json.Unmarshal(idRaw, &in.InferenceJobID); err != nil {
			return nil, ErrInvalidPayload
		}
	}

	return in, nil
}

// normalizeWorkflows accepts either a list of workflow documents or a single
// one, and returns the list form.
func normalizeWorkflows(wf json.RawMessage) ([]model.WorkflowSpec, error) {
	trimmed := bytes.TrimSpace(wf)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var workflows []model.WorkflowSpec
		if err := json.Unmarshal(wf, &workflows); err != nil {
			return nil, ErrInvalidPayload
		}
		for _, w := range workflows {
			if isNull(w) {
				return nil, ErrMissingWorkflow
			}
		}
		return workflows, nil
	}
	return []model.WorkflowSpec{model.WorkflowSpec(trimmed)}, nil
}

// validateImages checks that images is a list whose every element carries
// both a name and an image key, then decodes it.
func validateImages(raw json.RawMessage) ([]model.InputImage, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, ErrInvalidImages
	}
	for _, item := range items {
		if _, ok := item["name"]; !ok {
			return nil, ErrInvalidImages
		}
		if _, ok := item["image"]; !ok {
			return nil, ErrInvalidImages
		}
	}

	var images []model.InputImage
	if err := json.Unmarshal(raw, &images); err != nil {
		return nil, ErrInvalidImages
	}
	return images, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
