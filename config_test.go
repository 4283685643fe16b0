package cloudreport

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigLoad(t *testing.T) {
	path := writeConfig(t, `region: us-east-1
aws_access_key_id: AKIAEXAMPLE
aws_secret_access_key: secret
debug: true
report:
  update_interval: 60
`)
	conf, err := ConfigLoad(path)
	if err != nil {
		t.Fatalf("ConfigLoad Error %+v", err)
	}
	if conf.Region != "us-east-1" {
		t.Fatalf("Region Error %s", conf.Region)
	}
	if conf.AWSAccessKeyID != "AKIAEXAMPLE" {
		t.Fatalf("AWSAccessKeyID Error %s", conf.AWSAccessKeyID)
	}
	if !conf.Debug {
		t.Fatal("Debug should be true")
	}
	if conf.Report.UpdateInterval != 60 {
		t.Fatalf("UpdateInterval Error %d", conf.Report.UpdateInterval)
	}
	// defaults fill everything not set in the file
	if conf.Namespace != DefaultNamespace {
		t.Fatalf("Namespace default Error %s", conf.Namespace)
	}
	if conf.Report.ReportingInterval != DefaultReportingIntervalSeconds {
		t.Fatalf("ReportingInterval default Error %d", conf.Report.ReportingInterval)
	}
	if conf.Report.Delay != DefaultDelaySeconds {
		t.Fatalf("Delay default Error %d", conf.Report.Delay)
	}
	if conf.Report.MaxDatapoints != MaxDatapointsPerQuery {
		t.Fatalf("MaxDatapoints default Error %d", conf.Report.MaxDatapoints)
	}
	if conf.QueriesPerSecond != DefaultQueriesPerSecond {
		t.Fatalf("QueriesPerSecond default Error %f", conf.QueriesPerSecond)
	}
}

func TestConfigLoadMissingRequiredField(t *testing.T) {
	path := writeConfig(t, `region: us-east-1
aws_access_key_id: AKIAEXAMPLE
`)
	if _, err := ConfigLoad(path); err == nil {
		t.Fatal("expected error for missing aws_secret_access_key")
	}

	path = writeConfig(t, `aws_access_key_id: AKIAEXAMPLE
aws_secret_access_key: secret
`)
	if _, err := ConfigLoad(path); err == nil {
		t.Fatal("expected error for missing region")
	}
}

func TestConfigLoadMissingFile(t *testing.T) {
	if _, err := ConfigLoad(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
