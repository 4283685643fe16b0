package engine

import (
	"github.com/masa23/cloudreport"
)

// DetectedMetrics is the fixed set of per-instance metrics the job analyzes,
// one mean detector each.
var DetectedMetrics = []string{
	"DiskReadOps",
	"DiskReadBytes",
	"DiskWriteOps",
	"DiskWriteBytes",
	"NetworkIn",
	"NetworkOut",
	"CPUUtilization",
	"StatusCheckFailed",
	"StatusCheckFailed_Instance",
	"StatusCheckFailed_System",
}

// Detector configures one analysis function over one field of the uploaded
// records.
type Detector struct {
	Function    string `json:"function"`
	FieldName   string `json:"fieldName"`
	ByFieldName string `json:"byFieldName"`
}

// AnalysisConfig groups the detectors and the bucket span in seconds.
type AnalysisConfig struct {
	BucketSpan int        `json:"bucketSpan"`
	Detectors  []Detector `json:"detectors"`
}

// DataDescription tells the engine how to read the uploaded documents.
type DataDescription struct {
	Format     string `json:"format"`
	TimeField  string `json:"timeField"`
	TimeFormat string `json:"timeFormat"`
}

// JobConfig is the job configuration document sent on create.
type JobConfig struct {
	ID              string          `json:"id,omitempty"`
	AnalysisConfig  AnalysisConfig  `json:"analysisConfig"`
	DataDescription DataDescription `json:"dataDescription"`
}

// NewJobConfig builds the fixed job configuration: one mean detector per
// metric keyed by instance, bucketed at the update interval. An empty jobID
// leaves the id to the engine.
func NewJobConfig(jobID string) *JobConfig {
	detectors := make([]Detector, 0, len(DetectedMetrics))
	for _, m := range DetectedMetrics {
		detectors = append(detectors, Detector{
			Function:    "mean",
			FieldName:   m,
			ByFieldName: "instance",
		})
	}
	return &JobConfig{
		ID: jobID,
		AnalysisConfig: AnalysisConfig{
			BucketSpan: cloudreport.DefaultUpdateIntervalSeconds,
			Detectors:  detectors,
		},
		DataDescription: DataDescription{
			Format:     "JSON",
			TimeField:  "timestamp",
			TimeFormat: "yyyy-MM-dd'T'HH:mm:ssX",
		},
	}
}
