package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hnakamur/errstack"
	"github.com/hnakamur/ltsvlog"
	"github.com/valyala/fastjson"

	"github.com/masa23/cloudreport"
)

// API path prefixes. Results moved to v2, ingestion is still v1.
const (
	ingestBasePath  = "/engine/v1"
	resultsBasePath = "/engine/v2"
)

// Response carries the engine's status code and raw body verbatim, callers
// interpret the status against the contract: 201 created, 202 accepted,
// 404 not found.
type Response struct {
	Status int
	Body   []byte
}

// Client talks to the anomaly engine REST API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient returns a client for the engine at host:port.
func NewClient(host string, port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// CreateJob registers a new ingestion job.
func (c *Client) CreateJob(ctx context.Context, cfg *JobConfig) (Response, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return Response{}, errstack.WithLV(errstack.Errorf("marshal job config err=%+v", err))
	}
	return c.do(ctx, http.MethodPost, ingestBasePath+"/jobs", body, "application/json")
}

// GetJob looks a job up by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (Response, error) {
	return c.do(ctx, http.MethodGet, ingestBasePath+"/jobs/"+url.PathEscape(jobID), nil, "")
}

// Upload streams one newline-delimited JSON batch into the job.
func (c *Client) Upload(ctx context.Context, jobID string, data []byte) (Response, error) {
	return c.do(ctx, http.MethodPost, ingestBasePath+"/data/"+url.PathEscape(jobID), data, "application/json")
}

// CloseJob signals end of stream for the job.
func (c *Client) CloseJob(ctx context.Context, jobID string) (Response, error) {
	return c.do(ctx, http.MethodPost, ingestBasePath+"/data/"+url.PathEscape(jobID)+"/close", nil, "")
}

// GetRecords pages through the job's anomaly records. Records with an
// anomalyScore or normalizedProbability below the given thresholds are
// filtered out server side, zero thresholds fetch everything.
func (c *Client) GetRecords(ctx context.Context, jobID string, skip, take int, anomalyScore, normalizedProbability float64) (Response, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("take", strconv.Itoa(take))
	if anomalyScore > 0 {
		q.Set("anomalyScore", strconv.FormatFloat(anomalyScore, 'f', -1, 64))
	}
	if normalizedProbability > 0 {
		q.Set("normalizedProbability", strconv.FormatFloat(normalizedProbability, 'f', -1, 64))
	}
	path := resultsBasePath + "/results/" + url.PathEscape(jobID) + "/records?" + q.Encode()
	return c.do(ctx, http.MethodGet, path, nil, "")
}

// EnsureJob makes sure a job exists before ingestion starts and returns its
// effective id. An empty id asks the engine to assign one, a known id is
// reused and an unknown one is created with that id.
func (c *Client) EnsureJob(ctx context.Context, jobID string) (string, error) {
	if jobID == "" {
		return c.createJob(ctx, NewJobConfig(""))
	}
	resp, err := c.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	switch resp.Status {
	case http.StatusOK:
		ltsvlog.Logger.Info().Fmt("msg", "using job with ID %s", jobID).Log()
		return jobID, nil
	case http.StatusNotFound:
		return c.createJob(ctx, NewJobConfig(jobID))
	default:
		return "", errstack.WithLV(errstack.Errorf("get job %s status=%d body=%s", jobID, resp.Status, resp.Body))
	}
}

func (c *Client) createJob(ctx context.Context, cfg *JobConfig) (string, error) {
	resp, err := c.CreateJob(ctx, cfg)
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusCreated {
		return "", errstack.WithLV(errstack.Errorf("create job status=%d body=%s", resp.Status, resp.Body))
	}
	id := fastjson.GetString(resp.Body, "id")
	if id == "" {
		return "", errstack.WithLV(errstack.Errorf("create job response has no id body=%s", resp.Body))
	}
	ltsvlog.Logger.Info().Fmt("msg", "created job with ID %s", id).Log()
	return id, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string) (Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return Response{}, errstack.WithLV(errstack.Errorf("engine new request %s %s err=%+v", method, path, err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, errstack.WithLV(errstack.Errorf("engine %s %s err=%+v", method, path, err))
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, errstack.WithLV(errstack.Errorf("engine read response %s %s err=%+v", method, path, err))
	}
	return Response{Status: resp.StatusCode, Body: b}, nil
}

// JobSink binds a Client to one job id so the scheduler can upload batches
// without knowing about job lifecycles.
type JobSink struct {
	Client *Client
	JobID  string
}

var _ cloudreport.Sink = (*JobSink)(nil)

// Upload sends one batch to the bound job.
func (s *JobSink) Upload(ctx context.Context, data []byte) (int, []byte, error) {
	resp, err := s.Client.Upload(ctx, s.JobID, data)
	return resp.Status, resp.Body, err
}
