package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorintegration_readings_ingested_total",
			Help: "Accepted sensor readings by ingestion source.",
		},
		[]string{"source"},
	)

	ReadingsOutOfThreshold = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorintegration_readings_out_of_threshold_total",
			Help: "Readings outside their sensor thresholds.",
		},
		[]string{"direction"},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorintegration_alerts_raised_total",
			Help: "Alerts persisted by criticality.",
		},
		[]string{"criticality"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorintegration_alerts_suppressed_total",
			Help: "Breaches that did not become an alert.",
		},
		[]string{"reason"},
	)

	AlertQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorintegration_alert_queue_depth",
			Help: "Breach evaluations waiting in the alert queue.",
		},
	)

	WorkflowExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorintegration_workflow_executions_total",
			Help: "Finished workflow executions by kind and final status.",
		},
		[]string{"kind", "status"},
	)

	ActivityRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorintegration_workflow_activity_retries_total",
			Help: "Activity attempts that failed and were retried.",
		},
		[]string{"activity"},
	)

	MQTTConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorintegration_mqtt_up",
			Help: "Connection with the MQTT broker.",
		},
	)

	ModbusPollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorintegration_modbus_poll_errors_total",
			Help: "Failed Modbus register reads per sensor.",
		},
		[]string{"sensor_id"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensorintegration_http_request_duration_seconds",
			Help:    "REST request latency by route and status code.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
