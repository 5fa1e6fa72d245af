package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/graymont/easel/internal/comfy"
	"github.com/graymont/easel/internal/model"
)

// processOutputs delivers every artifact referenced by one completed
// workflow's outputs. Each artifact is handled independently: a missing file
// or failed upload yields an error entry for that artifact and never aborts
// the rest. With an uploader configured the success payload is a storage URL,
// and the webhook (when configured, and a correlation id is present) fires
// immediately after the upload; otherwise the payload is the artifact content
// encoded as base64.
func (p *Pipeline) processOutputs(ctx context.Context, outputs comfy.Outputs, jobID, inferenceJobID string) []model.DeliveryResult {
	refs := collectArtifacts(outputs)
	results := make([]model.DeliveryResult, 0, len(refs))

	for _, ref := range refs {
		localPath := filepath.Join(p.cfg.OutputRoot, ref.Subfolder, ref.Filename)
		p.logger.Info("processing artifact", "job_id", jobID, "path", localPath)

		if _, err := os.Stat(localPath); err != nil {
			p.logger.Error("artifact missing from output folder", "path", localPath)
			results = append(results, errorResult(fmt.Sprintf("the image does not exist in the specified output folder: %s", localPath)))
			artifactsDelivered.WithLabelValues(model.DeliveryError).Inc()
			continue
		}

		var res model.DeliveryResult
		if p.uploader != nil {
			res = p.deliverToStorage(ctx, jobID, inferenceJobID, localPath)
		} else {
			res = p.deliverInline(localPath)
		}
		artifactsDelivered.WithLabelValues(res.Status).Inc()
		results = append(results, res)
	}

	return results
}

// deliverToStorage uploads one artifact and fires the webhook for it. The
// webhook outcome never alters the delivery result; it is logged and counted
// only.
func (p *Pipeline) deliverToStorage(ctx context.Context, jobID, inferenceJobID, localPath string) model.DeliveryResult {
	url, err := p.uploader.Upload(ctx, jobID, localPath)
	if err != nil {
		p.logger.Error("failed to upload artifact", "path", localPath, "error", err)
		return errorResult(fmt.Sprintf("failed to upload the image to storage: %v", err))
	}
	p.logger.Info("artifact uploaded", "image_url", url)

	if p.notifier != nil && p.notifier.Configured() && inferenceJobID != "" {
		if p.notifier.Notify(ctx, url, jobID, inferenceJobID) {
			p.logger.Info("artifact url sent to webhook", "image_url", url)
			webhookDeliveries.WithLabelValues(model.DeliverySuccess).Inc()
		} else {
			p.logger.Warn("failed to send artifact url to webhook", "image_url", url)
			webhookDeliveries.WithLabelValues(model.DeliveryError).Inc()
		}
	}

	return model.DeliveryResult{Status: model.DeliverySuccess, Message: url}
}

// deliverInline encodes one artifact's content as base64.
func (p *Pipeline) deliverInline(localPath string) model.DeliveryResult {
	content, err := os.ReadFile(localPath)
	if err != nil {
		p.logger.Error("failed to read artifact", "path", localPath, "error", err)
		return errorResult(fmt.Sprintf("failed to read the image from the output folder: %v", err))
	}
	return model.DeliveryResult{
		Status:  model.DeliverySuccess,
		Message: base64.StdEncoding.EncodeToString(content),
	}
}

// collectArtifacts flattens the per-node images lists into one ordered list.
// Node ids are sorted numerically where possible so the order is
// deterministic across runs.
func collectArtifacts(outputs comfy.Outputs) []comfy.ArtifactRef {
	nodeIDs := make([]string, 0, len(outputs))
	for id := range outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool {
		a, aerr := strconv.Atoi(nodeIDs[i])
		b, berr := strconv.Atoi(nodeIDs[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return nodeIDs[i] < nodeIDs[j]
	})

	var refs []comfy.ArtifactRef
	for _, id := range nodeIDs {
		refs = append(refs, outputs[id].Images...)
	}
	return refs
}

func errorResult(msg string) model.DeliveryResult {
	return model.DeliveryResult{Status: model.DeliveryError, Message: msg}
}
