package aep

import (
	"context"
	"fmt"
	"regexp"
)

const (
	upsPath = "/data/core/ups"

	// ProfileSchemaName is the schema of profile exports
	ProfileSchemaName = "_xdm.context.profile"
)

var predecessorSchedulePattern = regexp.MustCompile(`SegmentationExportChaining_([^_]+)_`)

// SegmentJobs lists segment evaluation jobs
func (c *Client) SegmentJobs(ctx context.Context, limit int) (Object, error) {
	return c.getObject(ctx, fmt.Sprintf("%s/segment/jobs?limit=%d", upsPath, limit))
}

// SegmentJob fetches one segment evaluation job
func (c *Client) SegmentJob(ctx context.Context, jobID string) (Object, error) {
	return c.getObject(ctx, upsPath+"/segment/jobs/"+pathID(jobID))
}

// SegmentDefinitions lists segment definitions
func (c *Client) SegmentDefinitions(ctx context.Context, limit int) (Object, error) {
	return c.getObject(ctx, fmt.Sprintf("%s/segment/definitions?limit=%d", upsPath, limit))
}

// SegmentDefinition fetches one segment definition
func (c *Client) SegmentDefinition(ctx context.Context, segmentID string) (Object, error) {
	return c.getObject(ctx, upsPath+"/segment/definitions/"+pathID(segmentID))
}

// Schedules lists segmentation and export schedules
func (c *Client) Schedules(ctx context.Context, limit int) (Object, error) {
	return c.getObject(ctx, fmt.Sprintf("%s/config/schedules?limit=%d", upsPath, limit))
}

// Schedule fetches one schedule
func (c *Client) Schedule(ctx context.Context, scheduleID string) (Object, error) {
	return c.getObject(ctx, upsPath+"/config/schedules/"+pathID(scheduleID))
}

// MergePolicy fetches one merge policy
func (c *Client) MergePolicy(ctx context.Context, mergePolicyID string) (Object, error) {
	return c.getObject(ctx, upsPath+"/config/mergePolicies/"+pathID(mergePolicyID))
}

// filterChildren keeps the children matching keep. A response without children is
// returned unchanged.
func filterChildren(response Object, keep func(Object) bool) Object {
	if _, ok := response["children"]; !ok {
		return response
	}
	filtered := []interface{}{}
	for _, child := range Children(response) {
		if keep(child) {
			filtered = append(filtered, child)
		}
	}
	return Object{"children": filtered}
}

// BatchSegmentationSchedules lists the active batch segmentation schedules
func (c *Client) BatchSegmentationSchedules(ctx context.Context) (Object, error) {
	response, err := c.getObject(ctx, upsPath+"/config/schedules")
	if err != nil {
		return nil, err
	}
	return filterChildren(response, func(schedule Object) bool {
		return String(schedule, "type") == "batch_segmentation" && String(schedule, "state") == "active"
	}), nil
}

// ExportSchedules lists the profile export schedules, active or not. Export schedules
// are chained to segment jobs and often inactive.
func (c *Client) ExportSchedules(ctx context.Context) (Object, error) {
	response, err := c.getObject(ctx, upsPath+"/config/schedules")
	if err != nil {
		return nil, err
	}
	return filterChildren(response, func(schedule Object) bool {
		name, _ := Path(schedule, "properties", "payload", "schema", "name").(string)
		return String(schedule, "type") == "export" && name == ProfileSchemaName
	}), nil
}

// SegmentJobsBySchedule lists the segment jobs started by a schedule, newest first
func (c *Client) SegmentJobsBySchedule(ctx context.Context, scheduleID string, limit int) (Object, error) {
	return c.getObject(ctx, fmt.Sprintf("%s/segment/jobs?property=properties.scheduleId==%s&limit=%d&sort=creationTime:desc",
		upsPath, encodeURIComponent("'"+scheduleID+"'"), limit))
}

// SegmentJobsForSegment lists the jobs which evaluated a segment, newest first
func (c *Client) SegmentJobsForSegment(ctx context.Context, segmentID string, limit int) (Object, error) {
	return c.getObject(ctx, fmt.Sprintf("%s/segment/jobs?property=segments==%s&limit=%d&sort=creationTime:desc",
		upsPath, encodeURIComponent("'"+segmentID+"'"), limit))
}

// ExportJobsBySchedule lists the export jobs started by a schedule
func (c *Client) ExportJobsBySchedule(ctx context.Context, scheduleID string, limit int) (Object, error) {
	return c.getObject(ctx, fmt.Sprintf("%s/export/jobs/?property=properties.scheduleId==%s&limit=%d",
		upsPath, encodeURIComponent(scheduleID), limit))
}

// ExportJob fetches one export job including its metrics
func (c *Client) ExportJob(ctx context.Context, jobID string) (Object, error) {
	return c.getObject(ctx, upsPath+"/export/jobs/"+pathID(jobID))
}

// PredecessorScheduleID extracts the segmentation schedule which chained an export run.
// Returns "" if runID does not follow the chaining pattern.
func PredecessorScheduleID(runID string) string {
	match := predecessorSchedulePattern.FindStringSubmatch(runID)
	if match == nil {
		return ""
	}
	return match[1]
}

// ProfileExportJobs lists the most recent profile export jobs. Every job carries
// properties.predecessorScheduleId, null if the job was not chained to a segmentation.
func (c *Client) ProfileExportJobs(ctx context.Context, limit int) (Object, error) {
	response, err := c.getObject(ctx, fmt.Sprintf("%s/export/jobs/?showSegmentMetrics=true&limit=%d&sort=creationTime:desc",
		upsPath, limit))
	if err != nil {
		return nil, err
	}
	if _, ok := response["children"]; !ok {
		return response, nil
	}
	jobs := []interface{}{}
	for _, job := range Children(response) {
		if name, _ := Path(job, "schema", "name").(string); name != ProfileSchemaName {
			continue
		}
		properties := Object{}
		if p, ok := job["properties"].(Object); ok {
			for k, v := range p {
				properties[k] = v
			}
		}
		var predecessor interface{}
		if id := PredecessorScheduleID(String(properties, "runId")); id != "" {
			predecessor = id
		}
		properties["predecessorScheduleId"] = predecessor

		copied := Object{}
		for k, v := range job {
			copied[k] = v
		}
		copied["properties"] = properties
		jobs = append(jobs, copied)
	}
	return Object{"children": jobs}, nil
}

// ExportJobsByPredecessorSchedule lists the profile export jobs chained to a segmentation
// schedule. Twice the limit is fetched since only a part of the jobs match.
func (c *Client) ExportJobsByPredecessorSchedule(ctx context.Context, scheduleID string, limit int) (Object, error) {
	response, err := c.ProfileExportJobs(ctx, 2*limit)
	if err != nil {
		return nil, err
	}
	jobs := []interface{}{}
	for _, job := range Children(response) {
		if len(jobs) >= limit {
			break
		}
		if id, _ := Path(job, "properties", "predecessorScheduleId").(string); id == scheduleID {
			jobs = append(jobs, job)
		}
	}
	return Object{"children": jobs}, nil
}
