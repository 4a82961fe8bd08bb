package aep

import (
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// TimeLayout is the UTC layout with millisecond precision used for reshaped timestamps
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Items returns the objects of the "items" array of a Flow Service response
func Items(response Object) []Object {
	return objects(response, "items")
}

// Children returns the objects of the "children" array of a Segmentation response
func Children(response Object) []Object {
	return objects(response, "children")
}

func objects(response Object, key string) []Object {
	list, _ := response[key].([]interface{})
	result := make([]Object, 0, len(list))
	for _, v := range list {
		if o, ok := v.(Object); ok {
			result = append(result, o)
		}
	}
	return result
}

// FirstItem returns the first element of items, or nil
func FirstItem(response Object) Object {
	items := Items(response)
	if len(items) == 0 {
		return nil
	}
	return items[0]
}

// String returns o[key] if it is a string
func String(o Object, key string) string {
	s, _ := o[key].(string)
	return s
}

// Path follows nested objects along keys, returns nil when a step is missing
func Path(o Object, keys ...string) interface{} {
	var current interface{} = o
	for _, key := range keys {
		m, ok := current.(Object)
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}

// FormatTime renders a platform timestamp, either epoch milliseconds or a date string,
// in TimeLayout. The second return value is false if v is not a timestamp.
func FormatTime(v interface{}) (string, bool) {
	var t time.Time
	switch x := v.(type) {
	case float64:
		t = time.UnixMilli(int64(x))
	case int64:
		t = time.UnixMilli(x)
	case json.Number:
		ms, err := x.Int64()
		if err != nil {
			return "", false
		}
		t = time.UnixMilli(ms)
	case string:
		if ms, err := strconv.ParseInt(x, 10, 64); err == nil {
			t = time.UnixMilli(ms)
			break
		}
		parsed, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return "", false
		}
		t = parsed
	default:
		return "", false
	}
	return t.UTC().Format(TimeLayout), true
}

// formatTimeOr formats v, or returns fallback if v is absent, zero or not a timestamp
func formatTimeOr(v interface{}, fallback string) string {
	switch x := v.(type) {
	case float64:
		if x == 0 {
			return fallback
		}
	case int64:
		if x == 0 {
			return fallback
		}
	case json.Number:
		if x == "0" {
			return fallback
		}
	case string:
		if x == "" || x == "0" {
			return fallback
		}
	}
	if s, ok := FormatTime(v); ok {
		return s
	}
	return fallback
}

func firstString(v interface{}) string {
	list, _ := v.([]interface{})
	if len(list) == 0 {
		return ""
	}
	s, _ := list[0].(string)
	return s
}

func orDefault(v interface{}, fallback interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return fallback
	case string:
		if x == "" {
			return fallback
		}
	}
	return v
}

// KeyedToList turns a Catalog response keyed by id into a list of objects carrying
// their id. The list is ordered by the created timestamp, newest first, then by id.
func KeyedToList(response Object) []Object {
	list := make([]Object, 0, len(response))
	for id, v := range response {
		o, ok := v.(Object)
		if !ok {
			continue
		}
		entry := Object{}
		for k, val := range o {
			entry[k] = val
		}
		entry["id"] = id
		list = append(list, entry)
	}
	sort.SliceStable(list, func(i, j int) bool {
		ci, cj := created(list[i]), created(list[j])
		if ci != cj {
			return ci > cj
		}
		return String(list[i], "id") < String(list[j], "id")
	})
	return list
}

func created(o Object) float64 {
	switch x := o["created"].(type) {
	case float64:
		return x
	case json.Number:
		f, _ := x.Float64()
		return f
	}
	return 0
}

// ReshapeDatasets turns a Catalog datasets response into the dataset table rows
func ReshapeDatasets(response Object, now time.Time) []Object {
	nowString := now.UTC().Format(TimeLayout)
	datasets := []Object{}
	for _, ds := range KeyedToList(response) {
		id := String(ds, "id")
		datasets = append(datasets, Object{
			"id":          id,
			"name":        orDefault(ds["name"], "Dataset "+id),
			"description": orDefault(ds["description"], "No description available"),
			"created":     formatTimeOr(ds["created"], nowString),
			"modified":    formatTimeOr(ds["modified"], nowString),
			"schemaRef":   ds["schemaRef"],
			"tags":        orDefault(ds["tags"], Object{}),
		})
	}
	return datasets
}

// ReshapeFlows turns a Flow Service flows response into the flow table rows
func ReshapeFlows(response Object, now time.Time) []Object {
	nowString := now.UTC().Format(TimeLayout)
	flows := []Object{}
	for _, flow := range Items(response) {
		id := String(flow, "id")
		flows = append(flows, Object{
			"id":                 id,
			"name":               orDefault(flow["name"], "Flow "+id),
			"description":        orDefault(flow["description"], "No description available"),
			"state":              orDefault(flow["state"], "unknown"),
			"created":            formatTimeOr(flow["createdAt"], nowString),
			"sourceConnectionId": firstString(flow["sourceConnectionIds"]),
			"targetConnectionId": firstString(flow["targetConnectionIds"]),
			"flowSpec":           flow["flowSpec"],
		})
	}
	return flows
}

// ReshapeFlowRuns turns a Flow Service runs response into the flow run table rows
func ReshapeFlowRuns(response Object) []Object {
	runs := []Object{}
	for _, run := range Items(response) {
		started, ok := FormatTime(Path(run, "metrics", "durationSummary", "startedAtUTC"))
		if !ok {
			started, _ = FormatTime(run["createdAt"])
		}
		var completed interface{}
		if s, ok := FormatTime(Path(run, "metrics", "durationSummary", "completedAtUTC")); ok {
			completed = s
		}
		runErrors := Path(run, "metrics", "statusSummary", "errors")
		if runErrors == nil {
			runErrors = []interface{}{}
		}
		runs = append(runs, Object{
			"id":             run["id"],
			"flowId":         run["flowId"],
			"status":         orDefault(Path(run, "metrics", "statusSummary", "status"), "unknown"),
			"startedAtUTC":   started,
			"completedAtUTC": completed,
			"errors":         runErrors,
			"metrics":        run["metrics"],
		})
	}
	return runs
}
