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

// Package config loads remote-exec settings from a YAML file, the
// environment and command line flags, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"remote-exec/pkg/logging"
	"remote-exec/pkg/shell"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	DefaultZone      = "us-central1-a"
	DefaultNamespace = "default"
	DefaultBuilder   = "cloudbuild"
	DefaultTimeout   = time.Hour
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "REMOTE_EXEC_"
)

// Config holds every setting a run needs.
type Config struct {
	Project   string `yaml:"project"`
	Zone      string `yaml:"zone"`
	Cluster   string `yaml:"cluster"`
	Namespace string `yaml:"namespace"`
	// Bucket overrides the artifact store base, e.g. "gs://b", "s3://b/p"
	// or "file:///tmp/artifacts".
	Bucket string `yaml:"bucket"`
	// BuildBucket overrides where Cloud Build sources are uploaded.
	BuildBucket string `yaml:"build_bucket"`
	// Registry overrides the image repository.
	Registry string `yaml:"registry"`
	// Builder is "cloudbuild" or "crane".
	Builder   string `yaml:"builder"`
	BaseImage string `yaml:"base_image"`
	// Image skips the build cache and runs this image as is.
	Image          string        `yaml:"image"`
	ServiceAccount string        `yaml:"service_account"`
	Kubeconfig     string        `yaml:"kubeconfig"`
	Timeout        time.Duration `yaml:"timeout"`
	// CaptureEnv lists variable names or PREFIX* patterns forwarded to the
	// remote worker.
	CaptureEnv []string `yaml:"capture_env"`
	// Manifest overrides the dependency manifest file name.
	Manifest string `yaml:"manifest"`
	// LeaseURL enables the Redis build lease, e.g. "redis://host:6379/0".
	LeaseURL string `yaml:"lease_url"`
	S3       S3     `yaml:"s3"`
	LogLevel string `yaml:"log_level"`
}

// S3 configures S3-compatible artifact stores.
type S3 struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    *bool  `yaml:"use_ssl"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Zone:      DefaultZone,
		Namespace: DefaultNamespace,
		Builder:   DefaultBuilder,
		Timeout:   DefaultTimeout,
		LogLevel:  "info",
	}
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "remote-exec", "config.yaml")
}

// Load reads the file at path over the defaults, then applies environment
// overrides. An empty path reads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	logging.Debug("Loaded config from %s", path)
	return nil
}

// envFields maps environment variable suffixes to the fields they set.
func (c *Config) envFields() map[string]*string {
	return map[string]*string{
		"PROJECT":         &c.Project,
		"ZONE":            &c.Zone,
		"CLUSTER":         &c.Cluster,
		"NAMESPACE":       &c.Namespace,
		"BUCKET":          &c.Bucket,
		"BUILD_BUCKET":    &c.BuildBucket,
		"REGISTRY":        &c.Registry,
		"BUILDER":         &c.Builder,
		"BASE_IMAGE":      &c.BaseImage,
		"IMAGE":           &c.Image,
		"SERVICE_ACCOUNT": &c.ServiceAccount,
		"LEASE_URL":       &c.LeaseURL,
		"S3_ENDPOINT":     &c.S3.Endpoint,
		"S3_ACCESS_KEY":   &c.S3.AccessKey,
		"S3_SECRET_KEY":   &c.S3.SecretKey,
		"S3_REGION":       &c.S3.Region,
		"LOG_LEVEL":       &c.LogLevel,
	}
}

// ApplyEnv applies REMOTE_EXEC_* overrides. GOOGLE_CLOUD_PROJECT is used
// when no project is configured.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	for suffix, field := range c.envFields() {
		if v, ok := lookup(EnvPrefix + suffix); ok && v != "" {
			*field = v
		}
	}
	if v, ok := lookup(EnvPrefix + "CAPTURE_ENV"); ok && v != "" {
		c.CaptureEnv = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "TIMEOUT"); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeout = d
		} else {
			logging.Warn("Ignoring %sTIMEOUT=%q: %v", EnvPrefix, v, err)
		}
	}
	if c.Project == "" {
		if v, ok := lookup("GOOGLE_CLOUD_PROJECT"); ok {
			c.Project = v
		}
	}
}

// flagFields maps flag names to the string fields they set.
func (c *Config) flagFields() map[string]*string {
	return map[string]*string{
		"project":         &c.Project,
		"zone":            &c.Zone,
		"cluster":         &c.Cluster,
		"namespace":       &c.Namespace,
		"bucket":          &c.Bucket,
		"registry":        &c.Registry,
		"builder":         &c.Builder,
		"base-image":      &c.BaseImage,
		"image":           &c.Image,
		"service-account": &c.ServiceAccount,
		"kubeconfig":      &c.Kubeconfig,
		"lease-url":       &c.LeaseURL,
		"log-level":       &c.LogLevel,
	}
}

// ApplyFlags copies every flag the user set explicitly.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	for name, field := range c.flagFields() {
		if f := fs.Lookup(name); f != nil && f.Changed {
			*field = f.Value.String()
		}
	}
	if f := fs.Lookup("timeout"); f != nil && f.Changed {
		d, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		c.Timeout = d
	}
	if f := fs.Lookup("env"); f != nil && f.Changed {
		vars, err := fs.GetStringSlice("env")
		if err != nil {
			return err
		}
		c.CaptureEnv = append(c.CaptureEnv, vars...)
	}
	return nil
}

// projectFromGcloud reads the active gcloud project.
var projectFromGcloud = func() (string, error) {
	res := shell.ExecuteCommand("gcloud", "config", "get-value", "project")
	if res.ExitCode != 0 {
		return "", fmt.Errorf("failed to get GCP project ID from gcloud config: %s", res.Stderr)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Resolve fills in the project from gcloud when needed and validates the
// result.
func (c *Config) Resolve() error {
	if c.Project == "" && c.needsProject() {
		project, err := projectFromGcloud()
		if err != nil {
			return err
		}
		if project == "" || project == "(unset)" {
			return errors.New("GCP project ID is empty. Please provide it via --project, " +
				EnvPrefix + "PROJECT or configure the gcloud CLI")
		}
		logging.Info("Using GCP Project ID inferred from gcloud config: %s", project)
		c.Project = project
	}
	return c.Validate()
}

// needsProject reports whether any derived name depends on the project.
func (c *Config) needsProject() bool {
	return c.Bucket == "" || c.Registry == "" || (c.Builder == "cloudbuild" && c.Image == "")
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Builder {
	case "cloudbuild", "crane":
	default:
		return fmt.Errorf("unknown builder %q, want cloudbuild or crane", c.Builder)
	}
	if c.Namespace == "" {
		return errors.New("namespace must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// Region converts the zone to its region, "us-central1-a" to "us-central1".
func (c *Config) Region() string {
	return ZoneToRegion(c.Zone)
}

// ZoneToRegion drops the zone letter.
func ZoneToRegion(zone string) string {
	if i := strings.LastIndex(zone, "-"); i > 0 {
		return zone[:i]
	}
	return ZoneToRegion(DefaultZone)
}

// ARLocation is the Artifact Registry multi-region for the zone, "us" for
// "us-central1-a".
func (c *Config) ARLocation() string {
	region := c.Region()
	if i := strings.Index(region, "-"); i > 0 {
		return region[:i]
	}
	return region
}

// ArtifactBase is the root URI for job artifacts.
func (c *Config) ArtifactBase() string {
	if c.Bucket != "" {
		return c.Bucket
	}
	return fmt.Sprintf("gs://%s-remote-exec-jobs", c.Project)
}

// BuildSourceBase is the root URI for Cloud Build sources.
func (c *Config) BuildSourceBase() string {
	if c.BuildBucket != "" {
		return c.BuildBucket
	}
	return fmt.Sprintf("gs://%s-remote-exec-builds", c.Project)
}

// Repository is the image repository cached images are pushed to.
func (c *Config) Repository() string {
	if c.Registry != "" {
		return c.Registry
	}
	return fmt.Sprintf("%s-docker.pkg.dev/%s/remote-exec/base", c.ARLocation(), c.Project)
}

// UseSSL defaults to true for S3 endpoints.
func (s S3) UseSSLOrDefault() bool {
	if s.UseSSL == nil {
		return true
	}
	return *s.UseSSL
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
