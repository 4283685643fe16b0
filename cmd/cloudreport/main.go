package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	cw "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/hnakamur/errstack"
	"github.com/hnakamur/ltsvlog"

	"github.com/masa23/cloudreport"
	"github.com/masa23/cloudreport/internal/cloudwatch"
	"github.com/masa23/cloudreport/internal/engine"
)

const dateFormat = "2006-01-02"

func main() {
	var (
		configFile string
		jobID      string
		apiHost    string
		apiPort    int
		startDate  string
		endDate    string
	)
	flag.StringVar(&configFile, "config", "./config.yaml", "config file path")
	flag.StringVar(&jobID, "job-id", "", "send data to this job, a new job is created if not set")
	flag.StringVar(&apiHost, "api-host", "localhost", "engine API host")
	flag.IntVar(&apiPort, "api-port", 8080, "engine API port")
	flag.StringVar(&startDate, "start-date", "", "query historical data from this date (YYYY-MM-DD), realtime mode if not set")
	flag.StringVar(&endDate, "end-date", "", "query historical data up to this date (YYYY-MM-DD), defaults to now")
	flag.Parse()

	conf, err := cloudreport.ConfigLoad(configFile)
	if err != nil {
		panic(err)
	}

	// Error Log
	if conf.ErrorLogFile != "" {
		logFile, err := os.OpenFile(conf.ErrorLogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			panic(err)
		}
		defer logFile.Close()
		ltsvlog.Logger = ltsvlog.NewLTSVLogger(logFile, conf.Debug)
	} else {
		ltsvlog.Logger = ltsvlog.NewLTSVLogger(os.Stdout, conf.Debug)
	}
	ltsvlog.Logger.Info().Fmt("msg", "start cloudreport pid=%d", os.Getpid()).Log()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.OpenTelemetry.Enabled {
		shutdown, err := initOtelMetrics(ctx, &conf)
		if err != nil {
			ltsvlog.Logger.Err(err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				ltsvlog.Logger.Err(err)
			}
		}()
	}

	awscfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(conf.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conf.AWSAccessKeyID, conf.AWSSecretAccessKey, "")),
	)
	if err != nil {
		ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("load AWS config region=%s err=%+v", conf.Region, err)))
		os.Exit(1)
	}

	fetcher := cloudwatch.NewFetcher(cw.NewFromConfig(awscfg), conf.Namespace, conf.QueriesPerSecond)
	client := engine.NewClient(apiHost, apiPort)

	jobID, err = client.EnsureJob(ctx, jobID)
	if err != nil {
		ltsvlog.Logger.Err(err)
		os.Exit(1)
	}

	sched := cloudreport.NewScheduler(fetcher, &engine.JobSink{Client: client, JobID: jobID})
	sched.Period = time.Duration(conf.Report.ReportingInterval) * time.Second
	sched.UpdateInterval = time.Duration(conf.Report.UpdateInterval) * time.Second
	sched.Delay = time.Duration(conf.Report.Delay) * time.Second
	sched.MaxDatapoints = conf.Report.MaxDatapoints

	if startDate == "" {
		sched.RunRealtime(ctx)
	} else {
		start, err := time.Parse(dateFormat, startDate)
		if err != nil {
			ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("parse start-date %s err=%+v", startDate, err)))
			os.Exit(1)
		}
		var end time.Time
		if endDate != "" {
			end, err = time.Parse(dateFormat, endDate)
			if err != nil {
				ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("parse end-date %s err=%+v", endDate, err)))
				os.Exit(1)
			}
		}
		sched.RunHistorical(ctx, start.UTC(), end)
	}

	ltsvlog.Logger.Info().String("msg", "closing job").Log()
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if resp, err := client.CloseJob(closeCtx, jobID); err != nil {
		ltsvlog.Logger.Err(err)
	} else if resp.Status != http.StatusAccepted && resp.Status != http.StatusOK {
		ltsvlog.Logger.Info().Fmt("msg", "close job status=%d body=%s", resp.Status, resp.Body).Log()
	}
}
