// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"log/slog"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// TimeseriesRecorder writes operational events to InfluxDB.
//
// # Description
//
// The recorder carries per-request latency points, degraded-answer
// events, and persistence failures into a time-series bucket for
// longer-horizon analysis than Prometheus scraping retains. Writes go
// through the non-blocking write API: they batch in the background and
// never slow a request.
//
// A nil *TimeseriesRecorder is valid and every method is a no-op, so
// callers never need to branch on whether recording is configured.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying write API serializes
// batching internally.
type TimeseriesRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// NewTimeseriesRecorder creates a recorder from the environment.
//
// # Description
//
// Reads SEHAT_TIMESERIES_URL, SEHAT_TIMESERIES_TOKEN,
// SEHAT_TIMESERIES_ORG (default "sehat"), and SEHAT_TIMESERIES_BUCKET
// (default "sehat-ops"). Returns nil when the URL is unset; a nil
// recorder is a safe no-op.
func NewTimeseriesRecorder() *TimeseriesRecorder {
	url := os.Getenv("SEHAT_TIMESERIES_URL")
	if url == "" {
		slog.Info("Time-series recording disabled (SEHAT_TIMESERIES_URL unset)")
		return nil
	}

	token := os.Getenv("SEHAT_TIMESERIES_TOKEN")
	org := os.Getenv("SEHAT_TIMESERIES_ORG")
	if org == "" {
		org = "sehat"
	}
	bucket := os.Getenv("SEHAT_TIMESERIES_BUCKET")
	if bucket == "" {
		bucket = "sehat-ops"
	}

	client := influxdb2.NewClient(url, token)
	writeAPI := client.WriteAPI(org, bucket)

	// Surface async write failures in the logs; they are not
	// actionable per-request.
	go func() {
		for err := range writeAPI.Errors() {
			slog.Warn("Time-series write failed", "error", err)
		}
	}()

	slog.Info("Time-series recording enabled", "url", url, "bucket", bucket)
	return &TimeseriesRecorder{client: client, writeAPI: writeAPI}
}

// RecordStream writes one completed-stream point.
func (r *TimeseriesRecorder) RecordStream(endpoint string, duration time.Duration, degraded, success bool) {
	if r == nil {
		return
	}
	point := influxdb2.NewPointWithMeasurement("ask_stream").
		AddTag("endpoint", endpoint).
		AddField("duration_ms", duration.Milliseconds()).
		AddField("degraded", degraded).
		AddField("success", success).
		SetTime(time.Now())
	r.writeAPI.WritePoint(point)
}

// RecordSafetyFinding writes one fired-category point.
func (r *TimeseriesRecorder) RecordSafetyFinding(category string) {
	if r == nil {
		return
	}
	point := influxdb2.NewPointWithMeasurement("safety_finding").
		AddTag("category", category).
		AddField("count", 1).
		SetTime(time.Now())
	r.writeAPI.WritePoint(point)
}

// RecordPersistenceFailure writes one background-persistence failure
// point.
func (r *TimeseriesRecorder) RecordPersistenceFailure(stage string, err error) {
	if r == nil {
		return
	}
	point := influxdb2.NewPointWithMeasurement("persistence_failure").
		AddTag("stage", stage).
		AddField("error", err.Error()).
		SetTime(time.Now())
	r.writeAPI.WritePoint(point)
}

// Close flushes pending points and releases the client. Safe on nil.
func (r *TimeseriesRecorder) Close() {
	if r == nil {
		return
	}
	r.writeAPI.Flush()
	r.client.Close()
}
