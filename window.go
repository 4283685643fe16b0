package cloudreport

import (
	"fmt"
	"time"
)

// CloudWatch caps the number of datapoints a single statistics query may
// return. 1440 allows a full day per query at a one minute reporting
// interval.
const MaxDatapointsPerQuery = 1440

// Defaults for the ingestion loop. The interval values are in seconds so
// they can be written as plain numbers in the config file.
const (
	DefaultNamespace                = "AWS/EC2"
	DefaultQueriesPerSecond         = 10
	DefaultUpdateIntervalSeconds    = 300
	DefaultReportingIntervalSeconds = 60
	DefaultDelaySeconds             = 600
)

// TimeWindow is a half-open interval [Start, End) that bounds one provider
// query.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the window spans no time at all. Empty windows must
// not be queried.
func (w TimeWindow) Empty() bool {
	return !w.Start.Before(w.End)
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%s,%s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// QuerySpan returns the longest window a single query may cover at the given
// reporting interval without exceeding maxDatapoints returned points.
func QuerySpan(maxDatapoints int, reportingInterval time.Duration) time.Duration {
	return time.Duration(maxDatapoints) * reportingInterval
}

// SplitRange chops [start, end) into consecutive windows no longer than
// span. The windows partition the range exactly, the last one is truncated
// at end. An empty range yields no windows.
func SplitRange(start, end time.Time, span time.Duration) []TimeWindow {
	var windows []TimeWindow
	for cur := start; cur.Before(end); {
		next := cur.Add(span)
		if next.After(end) {
			next = end
		}
		windows = append(windows, TimeWindow{Start: cur, End: next})
		cur = next
	}
	return windows
}
