package cloudwatch

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cw "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/hnakamur/errstack"
	"github.com/hnakamur/ltsvlog"
	"golang.org/x/time/rate"

	"github.com/masa23/cloudreport"
)

// API is the subset of the CloudWatch client the fetcher needs.
type API interface {
	ListMetrics(ctx context.Context, params *cw.ListMetricsInput, optFns ...func(*cw.Options)) (*cw.ListMetricsOutput, error)
	GetMetricStatistics(ctx context.Context, params *cw.GetMetricStatisticsInput, optFns ...func(*cw.Options)) (*cw.GetMetricStatisticsOutput, error)
}

// instanceDimension marks series that belong to a single instance. Series
// aggregated by instance type or AMI lack it and are skipped.
const instanceDimension = "InstanceId"

// Fetcher queries every per-instance metric series in one namespace over a
// bounded time window.
type Fetcher struct {
	api       API
	namespace string
	limiter   *rate.Limiter
}

// NewFetcher wraps api for the given namespace. queriesPerSecond throttles
// the per-series statistics calls to stay under the provider's API limits.
func NewFetcher(api API, namespace string, queriesPerSecond float64) *Fetcher {
	return &Fetcher{
		api:       api,
		namespace: namespace,
		limiter:   rate.NewLimiter(rate.Limit(queriesPerSecond), 1),
	}
}

var _ cloudreport.Fetcher = (*Fetcher)(nil)

// Fetch lists the namespace's metric series, queries the Average statistic
// for each per-instance series at the given period and returns the union of
// all datapoints sorted ascending by timestamp. A failed series query is
// logged and skipped so one flaky series cannot stall a whole cycle, only a
// failed listing aborts the fetch.
func (f *Fetcher) Fetch(ctx context.Context, window cloudreport.TimeWindow, period time.Duration) ([]cloudreport.MetricRecord, error) {
	var records []cloudreport.MetricRecord

	input := &cw.ListMetricsInput{Namespace: aws.String(f.namespace)}
	for {
		out, err := f.api.ListMetrics(ctx, input)
		if err != nil {
			return nil, errstack.WithLV(errstack.Errorf("list metrics namespace=%s err=%+v", f.namespace, err))
		}
		for _, m := range out.Metrics {
			instance, ok := instanceOf(m)
			if !ok {
				continue
			}
			points, err := f.querySeries(ctx, m, instance, window, period)
			if err != nil {
				ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("query series metric=%s instance=%s err=%+v",
					aws.ToString(m.MetricName), instance, err)))
				continue
			}
			records = append(records, points...)
		}
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}

	cloudreport.SortRecords(records)
	return records, nil
}

func (f *Fetcher) querySeries(ctx context.Context, m types.Metric, instance string, window cloudreport.TimeWindow, period time.Duration) ([]cloudreport.MetricRecord, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := f.api.GetMetricStatistics(ctx, &cw.GetMetricStatisticsInput{
		Namespace:  m.Namespace,
		MetricName: m.MetricName,
		Dimensions: m.Dimensions,
		StartTime:  aws.Time(window.Start),
		EndTime:    aws.Time(window.End),
		Period:     aws.Int32(int32(period / time.Second)),
		Statistics: []types.Statistic{types.StatisticAverage},
	})
	if err != nil {
		return nil, err
	}

	records := make([]cloudreport.MetricRecord, 0, len(out.Datapoints))
	for _, dp := range out.Datapoints {
		if dp.Timestamp == nil || dp.Average == nil {
			continue
		}
		records = append(records, cloudreport.MetricRecord{
			Timestamp:  tagUTC(*dp.Timestamp),
			Instance:   instance,
			MetricName: aws.ToString(m.MetricName),
			Value:      *dp.Average,
		})
	}
	return records, nil
}

// tagUTC re-labels the wall-clock reading as UTC. The provider hands back
// timestamps without a zone annotation and they mean UTC, interpreting them
// in any other zone would shift the data.
func tagUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func instanceOf(m types.Metric) (string, bool) {
	for _, d := range m.Dimensions {
		if aws.ToString(d.Name) == instanceDimension {
			return aws.ToString(d.Value), true
		}
	}
	return "", false
}
