package am

import "github.com/teranos/corpipe/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, "":
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("database.url is required when database.driver is postgres")
		}
	default:
		return errors.Newf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	switch c.Pipeline.ReadPolicy {
	case ReadPolicyFailOpen, ReadPolicyFailClosed, "":
	default:
		return errors.Newf("pipeline.read_policy must be %q or %q, got %q",
			ReadPolicyFailOpen, ReadPolicyFailClosed, c.Pipeline.ReadPolicy)
	}

	// Pipeline workers: 0 = one goroutine per document, negative = invalid
	if c.Pipeline.Workers < 0 {
		return errors.Newf("pipeline.workers must be >= 0, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.PollIntervalMS < 0 {
		return errors.Newf("pipeline.poll_interval_ms must be >= 0, got %d", c.Pipeline.PollIntervalMS)
	}

	// Pulse workers: 0 = no background workers, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.PollIntervalMS < 0 {
		return errors.Newf("pulse.poll_interval_ms must be >= 0, got %d", c.Pulse.PollIntervalMS)
	}
	if c.Pulse.MaxJobsPerMinute < 0 {
		return errors.Newf("pulse.max_jobs_per_minute must be >= 0, got %d", c.Pulse.MaxJobsPerMinute)
	}

	switch c.Documents.Source {
	case SourceSQL, "":
	case SourceObject:
		if c.ObjectStore.Endpoint == "" {
			return errors.New("object_store.endpoint cannot be empty when documents.source is object")
		}
	default:
		return errors.Newf("documents.source must be %q or %q, got %q", SourceSQL, SourceObject, c.Documents.Source)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr cannot be empty when redis is enabled")
	}
	if c.Redis.TTLSeconds < 0 {
		return errors.Newf("redis.ttl_seconds must be >= 0, got %d", c.Redis.TTLSeconds)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.Newf("tracing.sample_ratio must be within [0, 1], got %f", c.Tracing.SampleRatio)
	}

	return nil
}
