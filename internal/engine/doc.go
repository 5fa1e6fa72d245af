// Package engine provides the job orchestration pipeline. It validates the
// job payload, waits for the generation engine to become reachable, stages
// input images, submits every workflow, polls the engine until all
// submissions complete within a bounded budget, and delivers each artifact to
// object storage or inline as it becomes available.
package engine
