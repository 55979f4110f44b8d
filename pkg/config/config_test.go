// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	. "gopkg.in/check.v1"
)

func Test(t *testing.T) { TestingT(t) }

type ConfigSuite struct {
	dir string
}

var _ = Suite(&ConfigSuite{})

func (s *ConfigSuite) SetUpTest(c *C) {
	s.dir = c.MkDir()
}

func (s *ConfigSuite) write(c *C, content string) string {
	path := filepath.Join(s.dir, "config.yaml")
	c.Assert(os.WriteFile(path, []byte(content), 0644), IsNil)
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func (s *ConfigSuite) TestLoadFile(c *C) {
	path := s.write(c, `
project: file-project
zone: europe-west4-b
timeout: 30m
capture_env: [HF_TOKEN, "WANDB_*"]
s3:
  endpoint: minio:9000
  use_ssl: false
`)
	cfg, err := Load(path)
	c.Assert(err, IsNil)
	c.Check(cfg.Project, Equals, "file-project")
	c.Check(cfg.Zone, Equals, "europe-west4-b")
	c.Check(cfg.Timeout, Equals, 30*time.Minute)
	c.Check(cfg.CaptureEnv, DeepEquals, []string{"HF_TOKEN", "WANDB_*"})
	c.Check(cfg.S3.Endpoint, Equals, "minio:9000")
	c.Check(cfg.S3.UseSSLOrDefault(), Equals, false)
	// Unset keys keep their defaults.
	c.Check(cfg.Namespace, Equals, DefaultNamespace)
	c.Check(cfg.Builder, Equals, DefaultBuilder)
}

func (s *ConfigSuite) TestLoadEmptyFile(c *C) {
	cfg, err := Load(s.write(c, ""))
	c.Assert(err, IsNil)
	c.Check(cfg.Zone, Equals, DefaultZone)
}

func (s *ConfigSuite) TestLoadRejectsUnknownKeys(c *C) {
	_, err := Load(s.write(c, "projct: typo\n"))
	c.Check(err, ErrorMatches, "(?s)failed to parse config file.*projct.*")
}

func (s *ConfigSuite) TestLoadMissingExplicitFile(c *C) {
	_, err := Load(filepath.Join(s.dir, "nope.yaml"))
	c.Check(err, ErrorMatches, "failed to read config file.*")
}

func (s *ConfigSuite) TestEnvOverrides(c *C) {
	cfg := Default()
	cfg.Project = "file-project"
	cfg.ApplyEnv(envMap(map[string]string{
		"REMOTE_EXEC_ZONE":        "asia-east1-c",
		"REMOTE_EXEC_CLUSTER":     "tpu-cluster",
		"REMOTE_EXEC_TIMEOUT":     "90s",
		"REMOTE_EXEC_CAPTURE_ENV": "HF_TOKEN, KERAS_*,",
		"GOOGLE_CLOUD_PROJECT":    "ignored",
	}))
	c.Check(cfg.Project, Equals, "file-project")
	c.Check(cfg.Zone, Equals, "asia-east1-c")
	c.Check(cfg.Cluster, Equals, "tpu-cluster")
	c.Check(cfg.Timeout, Equals, 90*time.Second)
	c.Check(cfg.CaptureEnv, DeepEquals, []string{"HF_TOKEN", "KERAS_*"})
}

func (s *ConfigSuite) TestEnvProjectFallback(c *C) {
	cfg := Default()
	cfg.ApplyEnv(envMap(map[string]string{"GOOGLE_CLOUD_PROJECT": "adc-project"}))
	c.Check(cfg.Project, Equals, "adc-project")

	cfg = Default()
	cfg.ApplyEnv(envMap(map[string]string{
		"GOOGLE_CLOUD_PROJECT": "adc-project",
		"REMOTE_EXEC_PROJECT":  "env-project",
	}))
	c.Check(cfg.Project, Equals, "env-project")
}

func (s *ConfigSuite) TestBadEnvTimeoutIgnored(c *C) {
	cfg := Default()
	cfg.ApplyEnv(envMap(map[string]string{"REMOTE_EXEC_TIMEOUT": "soon"}))
	c.Check(cfg.Timeout, Equals, DefaultTimeout)
}

func (s *ConfigSuite) TestFlagsOverride(c *C) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.String("project", "", "")
	fs.String("zone", "", "")
	fs.Duration("timeout", 0, "")
	fs.StringSlice("env", nil, "")
	c.Assert(fs.Parse([]string{"--project=flag-project", "--timeout=5m", "--env=A", "--env=B_*"}), IsNil)

	cfg := Default()
	cfg.Zone = "europe-west4-b"
	cfg.CaptureEnv = []string{"FROM_FILE"}
	c.Assert(cfg.ApplyFlags(fs), IsNil)
	c.Check(cfg.Project, Equals, "flag-project")
	c.Check(cfg.Zone, Equals, "europe-west4-b")
	c.Check(cfg.Timeout, Equals, 5*time.Minute)
	c.Check(cfg.CaptureEnv, DeepEquals, []string{"FROM_FILE", "A", "B_*"})
}

func (s *ConfigSuite) TestDerivedNames(c *C) {
	cfg := Default()
	cfg.Project = "my-proj"
	cfg.Zone = "europe-west4-b"
	c.Check(cfg.Region(), Equals, "europe-west4")
	c.Check(cfg.ARLocation(), Equals, "europe")
	c.Check(cfg.ArtifactBase(), Equals, "gs://my-proj-remote-exec-jobs")
	c.Check(cfg.BuildSourceBase(), Equals, "gs://my-proj-remote-exec-builds")
	c.Check(cfg.Repository(), Equals, "europe-docker.pkg.dev/my-proj/remote-exec/base")

	cfg.Bucket = "s3://artifacts/remote"
	cfg.Registry = "localhost:5000/remote-exec"
	c.Check(cfg.ArtifactBase(), Equals, "s3://artifacts/remote")
	c.Check(cfg.Repository(), Equals, "localhost:5000/remote-exec")
}

func (s *ConfigSuite) TestZoneToRegion(c *C) {
	c.Check(ZoneToRegion("us-central1-a"), Equals, "us-central1")
	c.Check(ZoneToRegion(""), Equals, "us-central1")
	c.Check(ZoneToRegion("nodash"), Equals, "us-central1")
}

func (s *ConfigSuite) TestResolveFromGcloud(c *C) {
	old := projectFromGcloud
	defer func() { projectFromGcloud = old }()

	projectFromGcloud = func() (string, error) { return "gcloud-project", nil }
	cfg := Default()
	c.Assert(cfg.Resolve(), IsNil)
	c.Check(cfg.Project, Equals, "gcloud-project")

	projectFromGcloud = func() (string, error) { return "(unset)", nil }
	cfg = Default()
	c.Check(cfg.Resolve(), ErrorMatches, "GCP project ID is empty.*")

	projectFromGcloud = func() (string, error) { return "", errors.New("gcloud missing") }
	cfg = Default()
	c.Check(cfg.Resolve(), ErrorMatches, "gcloud missing")
}

func (s *ConfigSuite) TestResolveWithoutProject(c *C) {
	old := projectFromGcloud
	defer func() { projectFromGcloud = old }()
	projectFromGcloud = func() (string, error) { return "", errors.New("must not be called") }

	cfg := Default()
	cfg.Bucket = "file:///tmp/artifacts"
	cfg.Registry = "localhost:5000/remote-exec"
	cfg.Builder = "crane"
	c.Assert(cfg.Resolve(), IsNil)
	c.Check(cfg.Project, Equals, "")
}

func (s *ConfigSuite) TestValidate(c *C) {
	cfg := Default()
	cfg.Builder = "docker"
	c.Check(cfg.Validate(), ErrorMatches, "unknown builder \"docker\".*")

	cfg = Default()
	cfg.Timeout = 0
	c.Check(cfg.Validate(), ErrorMatches, "timeout must be positive.*")
}
