package cloudreport

import (
	"fmt"
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is confiure struct
type Config struct {
	Region             string              `yaml:"region"`
	AWSAccessKeyID     string              `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string              `yaml:"aws_secret_access_key"`
	Namespace          string              `yaml:"namespace"`
	QueriesPerSecond   float64             `yaml:"queries_per_second"`
	ErrorLogFile       string              `yaml:"error_log_file"`
	Debug              bool                `yaml:"debug"`
	Report             configReport        `yaml:"report"`
	OpenTelemetry      configOpenTelemetry `yaml:"opentelemetry"`
}

// configReport intervals are in seconds.
type configReport struct {
	UpdateInterval    int `yaml:"update_interval"`
	ReportingInterval int `yaml:"reporting_interval"`
	Delay             int `yaml:"delay"`
	MaxDatapoints     int `yaml:"max_datapoints"`
}

type configOpenTelemetry struct {
	Enabled bool                   `yaml:"enabled"`
	URL     string                 `yaml:"url"`
	TLS     configOpenTelemetryTLS `yaml:"tls"`
}

type configOpenTelemetryTLS struct {
	Insecure             bool   `yaml:"insecure"`
	CACertificate        string `yaml:"ca_certificate"`
	ClientCertificate    string `yaml:"client_certificate"`
	ClientCertificateKey string `yaml:"client_certificate_key"`
}

// ConfigLoad is loading yaml config
func ConfigLoad(file string) (Config, error) {
	var conf Config
	fd, err := os.Open(file)
	if err != nil {
		return conf, err
	}
	defer fd.Close()

	buf, err := ioutil.ReadAll(fd)
	if err != nil {
		return conf, err
	}
	err = yaml.Unmarshal(buf, &conf)
	if err != nil {
		return conf, err
	}
	confDefaults(&conf)
	if err := confValidate(&conf); err != nil {
		return conf, err
	}
	return conf, nil
}

func confDefaults(conf *Config) {
	if conf.Namespace == "" {
		conf.Namespace = DefaultNamespace
	}
	if conf.QueriesPerSecond == 0 {
		conf.QueriesPerSecond = DefaultQueriesPerSecond
	}
	if conf.Report.UpdateInterval == 0 {
		conf.Report.UpdateInterval = DefaultUpdateIntervalSeconds
	}
	if conf.Report.ReportingInterval == 0 {
		conf.Report.ReportingInterval = DefaultReportingIntervalSeconds
	}
	if conf.Report.Delay == 0 {
		conf.Report.Delay = DefaultDelaySeconds
	}
	if conf.Report.MaxDatapoints == 0 {
		conf.Report.MaxDatapoints = MaxDatapointsPerQuery
	}
}

func confValidate(conf *Config) error {
	if conf.Region == "" {
		return fmt.Errorf("config region is required")
	}
	if conf.AWSAccessKeyID == "" {
		return fmt.Errorf("config aws_access_key_id is required")
	}
	if conf.AWSSecretAccessKey == "" {
		return fmt.Errorf("config aws_secret_access_key is required")
	}
	return nil
}
