package cloudwatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cw "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/masa23/cloudreport"
)

type fakeAPI struct {
	pages      [][]types.Metric
	listErr    error
	listCalls  int
	datapoints map[string][]types.Datapoint // metric name -> points
	seriesErr  map[string]error
	statsCalls []*cw.GetMetricStatisticsInput
}

func (f *fakeAPI) ListMetrics(ctx context.Context, params *cw.ListMetricsInput, optFns ...func(*cw.Options)) (*cw.ListMetricsOutput, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	page := f.listCalls
	f.listCalls++
	out := &cw.ListMetricsOutput{Metrics: f.pages[page]}
	if page < len(f.pages)-1 {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func (f *fakeAPI) GetMetricStatistics(ctx context.Context, params *cw.GetMetricStatisticsInput, optFns ...func(*cw.Options)) (*cw.GetMetricStatisticsOutput, error) {
	f.statsCalls = append(f.statsCalls, params)
	name := aws.ToString(params.MetricName)
	if err := f.seriesErr[name]; err != nil {
		return nil, err
	}
	return &cw.GetMetricStatisticsOutput{Datapoints: f.datapoints[name]}, nil
}

func instanceMetric(name, instance string) types.Metric {
	return types.Metric{
		Namespace:  aws.String("AWS/EC2"),
		MetricName: aws.String(name),
		Dimensions: []types.Dimension{
			{Name: aws.String("InstanceId"), Value: aws.String(instance)},
		},
	}
}

func testWindow() cloudreport.TimeWindow {
	start := time.Date(2014, 10, 1, 0, 0, 0, 0, time.UTC)
	return cloudreport.TimeWindow{Start: start, End: start.Add(time.Hour)}
}

func newTestFetcher(api API) *Fetcher {
	// effectively unthrottled so tests do not wait on the limiter
	return NewFetcher(api, "AWS/EC2", 1e6)
}

func TestFetchSkipsSeriesWithoutInstanceDimension(t *testing.T) {
	api := &fakeAPI{
		pages: [][]types.Metric{{
			instanceMetric("CPUUtilization", "i-1"),
			{
				Namespace:  aws.String("AWS/EC2"),
				MetricName: aws.String("CPUUtilization"),
				Dimensions: []types.Dimension{
					{Name: aws.String("InstanceType"), Value: aws.String("m3.large")},
				},
			},
			{
				Namespace:  aws.String("AWS/EC2"),
				MetricName: aws.String("StatusCheckFailed"),
				Dimensions: []types.Dimension{
					{Name: aws.String("ImageId"), Value: aws.String("ami-1234")},
				},
			},
		}},
		datapoints: map[string][]types.Datapoint{},
	}

	f := newTestFetcher(api)
	if _, err := f.Fetch(context.Background(), testWindow(), time.Minute); err != nil {
		t.Fatalf("Fetch Error %+v", err)
	}
	if len(api.statsCalls) != 1 {
		t.Fatalf("expected 1 statistics query, got %d", len(api.statsCalls))
	}
	if got := aws.ToString(api.statsCalls[0].Dimensions[0].Name); got != "InstanceId" {
		t.Fatalf("queried wrong dimension %s", got)
	}
}

func TestFetchQueryParameters(t *testing.T) {
	api := &fakeAPI{
		pages:      [][]types.Metric{{instanceMetric("NetworkIn", "i-1")}},
		datapoints: map[string][]types.Datapoint{},
	}
	w := testWindow()

	f := newTestFetcher(api)
	if _, err := f.Fetch(context.Background(), w, time.Minute); err != nil {
		t.Fatalf("Fetch Error %+v", err)
	}

	call := api.statsCalls[0]
	if !aws.ToTime(call.StartTime).Equal(w.Start) || !aws.ToTime(call.EndTime).Equal(w.End) {
		t.Fatalf("window not passed through: %v - %v", call.StartTime, call.EndTime)
	}
	if aws.ToInt32(call.Period) != 60 {
		t.Fatalf("Period Error %d", aws.ToInt32(call.Period))
	}
	if len(call.Statistics) != 1 || call.Statistics[0] != types.StatisticAverage {
		t.Fatalf("Statistics Error %v", call.Statistics)
	}
}

func TestFetchSortsAcrossSeries(t *testing.T) {
	w := testWindow()
	early := w.Start.Add(time.Minute)
	late := w.Start.Add(2 * time.Minute)

	api := &fakeAPI{
		pages: [][]types.Metric{{
			instanceMetric("CPUUtilization", "i-1"),
			instanceMetric("NetworkIn", "i-1"),
		}},
		datapoints: map[string][]types.Datapoint{
			"CPUUtilization": {
				{Timestamp: aws.Time(late), Average: aws.Float64(20)},
				{Timestamp: aws.Time(early), Average: aws.Float64(10)},
			},
			"NetworkIn": {
				{Timestamp: aws.Time(early), Average: aws.Float64(5)},
			},
		},
	}

	f := newTestFetcher(api)
	records, err := f.Fetch(context.Background(), w, time.Minute)
	if err != nil {
		t.Fatalf("Fetch Error %+v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp.Before(records[i-1].Timestamp) {
			t.Fatalf("records not sorted: %v after %v", records[i].Timestamp, records[i-1].Timestamp)
		}
	}
	// stable: CPUUtilization was appended before NetworkIn at the same time
	if records[0].MetricName != "CPUUtilization" || records[1].MetricName != "NetworkIn" {
		t.Fatalf("tie order not stable: %s, %s", records[0].MetricName, records[1].MetricName)
	}
}

func TestFetchTagsTimestampsUTC(t *testing.T) {
	w := testWindow()
	jst := time.FixedZone("JST", 9*60*60)

	api := &fakeAPI{
		pages: [][]types.Metric{{instanceMetric("CPUUtilization", "i-1")}},
		datapoints: map[string][]types.Datapoint{
			"CPUUtilization": {
				// the wall-clock reading means UTC even though the zone says
				// otherwise
				{Timestamp: aws.Time(time.Date(2014, 10, 1, 0, 30, 0, 0, jst)), Average: aws.Float64(1)},
			},
		},
	}

	f := newTestFetcher(api)
	records, err := f.Fetch(context.Background(), w, time.Minute)
	if err != nil {
		t.Fatalf("Fetch Error %+v", err)
	}
	want := time.Date(2014, 10, 1, 0, 30, 0, 0, time.UTC)
	if !records[0].Timestamp.Equal(want) || records[0].Timestamp.Location() != time.UTC {
		t.Fatalf("Timestamp Error %v", records[0].Timestamp)
	}
}

func TestFetchToleratesFailedSeries(t *testing.T) {
	w := testWindow()
	api := &fakeAPI{
		pages: [][]types.Metric{{
			instanceMetric("CPUUtilization", "i-1"),
			instanceMetric("NetworkIn", "i-1"),
		}},
		datapoints: map[string][]types.Datapoint{
			"NetworkIn": {{Timestamp: aws.Time(w.Start), Average: aws.Float64(5)}},
		},
		seriesErr: map[string]error{
			"CPUUtilization": errors.New("throttled"),
		},
	}

	f := newTestFetcher(api)
	records, err := f.Fetch(context.Background(), w, time.Minute)
	if err != nil {
		t.Fatalf("a single failed series must not fail the fetch: %+v", err)
	}
	if len(records) != 1 || records[0].MetricName != "NetworkIn" {
		t.Fatalf("expected the surviving series only, got %+v", records)
	}
}

func TestFetchListMetricsErrorAbortsFetch(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("boom")}
	f := newTestFetcher(api)
	if _, err := f.Fetch(context.Background(), testWindow(), time.Minute); err == nil {
		t.Fatal("expected error when the metric listing fails")
	}
}

func TestFetchFollowsListPagination(t *testing.T) {
	api := &fakeAPI{
		pages: [][]types.Metric{
			{instanceMetric("CPUUtilization", "i-1")},
			{instanceMetric("NetworkIn", "i-1")},
		},
		datapoints: map[string][]types.Datapoint{},
	}

	f := newTestFetcher(api)
	if _, err := f.Fetch(context.Background(), testWindow(), time.Minute); err != nil {
		t.Fatalf("Fetch Error %+v", err)
	}
	if api.listCalls != 2 {
		t.Fatalf("expected 2 list pages, got %d", api.listCalls)
	}
	if len(api.statsCalls) != 2 {
		t.Fatalf("expected a query per page series, got %d", len(api.statsCalls))
	}
}
