package main

import (
	"fmt"

	"github.com/sandboxrunner/pmstore/pkg/metrics"
)

type demoObservation struct {
	node, user, handler string
	values              []float64
}

var demoObservations = []demoObservation{
	{"miami1", "bob", "/v1/", []float64{0.04, 0.09, 0.19, 0.49, 0.99, 1.99}},
	{"miami1", "bob", "/v2/", []float64{0.03, 0.08, 0.18, 0.48, 0.98, 1.98}},
	{"tor1", "bob", "/v2/", []float64{0.041, 0.091, 0.191, 0.491, 0.991, 1.991}},
}

// populateDemo registers a request counter, an agent gauge and a request
// duration histogram and feeds them sample data.
func populateDemo(r *metrics.Registry) error {
	requests, err := r.NewCounter("controller_http_request_duration_seconds_count",
		"Total number of connected agents", "node", "user")
	if err != nil {
		return err
	}
	for _, c := range []struct {
		user  string
		value float64
	}{
		{"bob", 1000}, {"bob", 1000.40},
		{"alice", 3000}, {"alice", 3000.50},
	} {
		if err := r.CounterAdd(requests, c.value, metrics.L("node", "nyc1"), metrics.L("user", c.user)); err != nil {
			return err
		}
	}

	agents, err := r.NewGauge("controller_agent_connection_count_total",
		"Total number of connected agent", "node", "user")
	if err != nil {
		return err
	}
	for _, g := range []struct {
		node       string
		set, delta float64
	}{
		{"tor1", 23, -5},
		{"miami1", 500, -30},
	} {
		labels := []metrics.Label{metrics.L("node", g.node), metrics.L("user", "roger")}
		if err := r.GaugeSet(agents, g.set, labels...); err != nil {
			return err
		}
		if err := r.GaugeAdd(agents, g.delta, labels...); err != nil {
			return err
		}
	}

	duration, err := r.NewHistogram("controller_http_req_duration_seconds",
		"Histogram of HTTP request duration in seconds",
		[]float64{0.05, 0.1, 0.2, 0.5, 1.0},
		"node", "user", "handler")
	if err != nil {
		return err
	}
	for _, o := range demoObservations {
		for _, v := range o.values {
			err := r.HistogramObserve(duration, v,
				metrics.L("node", o.node), metrics.L("user", o.user), metrics.L("handler", o.handler))
			if err != nil {
				return fmt.Errorf("observe %v: %w", v, err)
			}
		}
	}
	return nil
}
