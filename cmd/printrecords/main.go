package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/hnakamur/errstack"
	"github.com/hnakamur/ltsvlog"
	"github.com/valyala/fastjson"

	"github.com/masa23/cloudreport/internal/engine"
)

// printrecords pulls every anomaly record for a job and prints the
// timestamp, anomaly score and normalized probability as CSV.

const pageSize = 200

func main() {
	var (
		apiHost               string
		apiPort               int
		anomalyScore          float64
		normalizedProbability float64
	)
	flag.StringVar(&apiHost, "api-host", "localhost", "engine API host")
	flag.IntVar(&apiPort, "api-port", 8080, "engine API port")
	flag.Float64Var(&anomalyScore, "anomaly-score", 0, "filter out buckets with an anomalyScore less than this")
	flag.Float64Var(&normalizedProbability, "normalized-probability", 0, "filter out buckets with a max normalized probability less than this")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: printrecords [flags] <job-id>")
		os.Exit(2)
	}
	jobID := flag.Arg(0)

	ltsvlog.Logger = ltsvlog.NewLTSVLogger(os.Stderr, false)
	ltsvlog.Logger.Info().Fmt("msg", "get records for job %s", jobID).Log()

	client := engine.NewClient(apiHost, apiPort)
	ctx := context.Background()

	fmt.Println("Date,Anomaly Score,Normalized Probability")
	skip := 0
	for {
		resp, err := client.GetRecords(ctx, jobID, skip, pageSize, anomalyScore, normalizedProbability)
		if err != nil {
			ltsvlog.Logger.Err(err)
			os.Exit(1)
		}
		if resp.Status != http.StatusOK {
			ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("get records job=%s status=%d body=%s", jobID, resp.Status, resp.Body)))
			os.Exit(1)
		}

		v, err := fastjson.ParseBytes(resp.Body)
		if err != nil {
			ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("parse records response err=%+v", err)))
			os.Exit(1)
		}
		for _, doc := range v.GetArray("documents") {
			fmt.Printf("%s,%v,%v\n",
				doc.GetStringBytes("timestamp"),
				doc.GetFloat64("anomalyScore"),
				doc.GetFloat64("normalizedProbability"))
		}

		skip += pageSize
		if skip >= v.GetInt("hitCount") {
			break
		}
	}
}
