package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"productload/internal/config"
	"productload/internal/metrics"
	"productload/internal/metrics/datadog"
	"productload/internal/metrics/prompush"
)

// initMetrics installs the configured metrics backend and returns its
// shutdown func. A backend that fails to start leaves the no-op in place.
func initMetrics(ctx context.Context, cfg config.Config, log *logrus.Logger) (func(), error) {
	job := cfg.Job
	if job == "" {
		job = "productload"
	}

	switch name := cfg.Metrics.Backend; name {
	case "pushgateway":
		b, err := prompush.NewBackend(job, cfg.Metrics.PushgatewayURL)
		if err != nil {
			log.Warnf("metrics: failed to init prom push backend: %v; using nop", err)
			return func() {}, nil
		}
		log.Debugf("metrics: backend=%s url=%s job_name=%s", name, cfg.Metrics.PushgatewayURL, job)
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Warnf("metrics: flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}, nil

	case "datadog":
		run := datadog.Run{
			Job:      job,
			Database: cfg.Database.Kind,
			Schema:   cfg.Database.Schema,
			Index:    cfg.Search.Index,
		}
		tags := datadog.ParseTags(cfg.Metrics.Tags)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			Run:        run,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			log.Warnf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}, nil
		}
		log.Debugf("metrics: backend=%s tags=%v", name, append(run.Tags(), tags...))
		metrics.SetBackend(b)
		// Close stops the periodic flush loop and submits what is left.
		return func() {
			if err := b.Close(); err != nil {
				log.Warnf("metrics: datadog close/flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}, nil

	case "", "none":
		log.Debugf("metrics: disabled")
		return func() {}, nil

	default:
		return nil, fmt.Errorf("metrics: unknown backend %q", name)
	}
}
