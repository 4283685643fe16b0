package cloudreport

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// TimestampFormat is the wire format of the timestamp field in composite
// records. Second precision, always UTC.
const TimestampFormat = time.RFC3339

// MetricRecord is one provider-reported sample for a single instance.
type MetricRecord struct {
	Timestamp  time.Time
	Instance   string
	MetricName string
	Value      float64
}

// CompositeRecord is one flattened document merging every metric that shares
// a timestamp. The fixed keys "timestamp" and "instance" are always present,
// each metric contributes one field keyed by its name.
type CompositeRecord map[string]interface{}

// NewCompositeRecord opens a record for the given timestamp and instance.
func NewCompositeRecord(ts time.Time, instance string) CompositeRecord {
	return CompositeRecord{
		"timestamp": ts.UTC().Format(TimestampFormat),
		"instance":  instance,
	}
}

// SortRecords orders records ascending by timestamp. The sort is stable so
// records sharing a timestamp keep their insertion order, Transpose depends
// on that.
func SortRecords(records []MetricRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}

// Transpose folds a metric sequence of the form
//
//	{time_1, instance, metric_A}
//	{time_1, instance, metric_B}
//	{time_2, instance, metric_A}
//	...
//
// into one record per distinct timestamp
//
//	{time_1, instance, metric_A, metric_B}
//	{time_2, instance, metric_A}
//
// A record stays open while incoming samples carry its timestamp and is
// flushed when a strictly later timestamp arrives, the trailing open record
// is flushed at the end. The input must already be sorted by timestamp
// (SortRecords), otherwise a late sample lands in the wrong record.
//
// Two instances reporting at the exact same timestamp end up in a single
// record carrying the first instance's id. That matches the grouping the
// downstream job was built against, see DESIGN.md before changing it to
// group by (timestamp, instance).
func Transpose(records []MetricRecord) []CompositeRecord {
	var transposed []CompositeRecord
	var current CompositeRecord
	var currentTime time.Time

	for _, r := range records {
		if current == nil || currentTime.Before(r.Timestamp) {
			if current != nil {
				transposed = append(transposed, current)
			}
			currentTime = r.Timestamp
			current = NewCompositeRecord(r.Timestamp, r.Instance)
		}
		current[r.MetricName] = r.Value
	}
	if current != nil {
		transposed = append(transposed, current)
	}
	return transposed
}

// EncodeNDJSON serializes records as newline-delimited JSON, one document
// per line. This is the upload payload format the engine expects.
func EncodeNDJSON(records []CompositeRecord) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
