package valetudo

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const scrapeTimeout = 5 * time.Second

// MetricsCollector scrapes the robot on every Prometheus collection.
type MetricsCollector struct {
	client *Client

	scrapeSuccess prometheus.Gauge
	lastSuccess   prometheus.Gauge
	battery       prometheus.Gauge
	state         prometheus.Gauge
	cleanArea     prometheus.Gauge
	cleanTime     prometheus.Gauge
	fanPower      prometheus.Gauge
	errorCode     prometheus.Gauge
	inCleaning    prometheus.Gauge
	consumables   *prometheus.GaugeVec
}

func NewMetricsCollector(client *Client) *MetricsCollector {
	return &MetricsCollector{
		client: client,
		scrapeSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "valetudo_scrape_success",
			Help: "Last scrape success (1=ok, 0=error)",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "valetudo_last_success_timestamp_seconds",
			Help: "Last successful scrape timestamp (epoch seconds)",
		}),
		battery: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "valetudo_battery_percent",
			Help: "Battery charge (%)",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "valetudo_state",
			Help: "Numeric robot state as reported by the firmware",
		}),
		cleanArea: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "valetudo_clean_area_square_meters",
			Help: "Area cleaned in the current or last run (m2)",
		}),
		cleanTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "valetudo_clean_time_seconds",
			Help: "Duration of the current or last run (seconds)",
		}),
		fanPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "valetudo_fan_power_percent",
			Help: "Fan power (%)",
		}),
		errorCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "valetudo_error_code",
			Help: "Firmware error code (0=none)",
		}),
		inCleaning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "valetudo_in_cleaning",
			Help: "1 while a cleaning run is in progress",
		}),
		consumables: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "valetudo_consumable_work_seconds",
			Help: "Work time since the consumable was last replaced (seconds)",
		}, []string{"consumable"}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.scrapeSuccess.Describe(ch)
	c.lastSuccess.Describe(ch)
	c.battery.Describe(ch)
	c.state.Describe(ch)
	c.cleanArea.Describe(ch)
	c.cleanTime.Describe(ch)
	c.fanPower.Describe(ch)
	c.errorCode.Describe(ch)
	c.inCleaning.Describe(ch)
	c.consumables.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	if c.client == nil {
		c.scrapeSuccess.Set(0)
		c.collectAll(ch)
		return
	}

	res, err := c.client.Status(ctx)
	if err != nil {
		c.scrapeSuccess.Set(0)
		c.collectAll(ch)
		return
	}
	status, err := DecodeStatus(res)
	if err != nil {
		c.scrapeSuccess.Set(0)
		c.collectAll(ch)
		return
	}

	c.scrapeSuccess.Set(1)
	c.lastSuccess.Set(float64(time.Now().Unix()))

	setGauge(c.battery, status.Battery)
	setGaugeInt(c.state, status.State)
	if area, ok := status.CleanAreaSquareMeters(); ok {
		c.cleanArea.Set(area)
	}
	setGauge(c.cleanTime, status.CleanTime)
	setGauge(c.fanPower, status.FanPower)
	setGaugeInt(c.errorCode, status.ErrorCode)
	setGaugeInt(c.inCleaning, status.InCleaning)

	c.applyConsumables(ctx)
	c.collectAll(ch)
}

// Consumable failures do not fail the scrape; the series are dropped instead.
func (c *MetricsCollector) applyConsumables(ctx context.Context) {
	c.consumables.Reset()

	res, err := c.client.ConsumableStatus(ctx)
	if err != nil {
		return
	}
	cs, err := DecodeConsumables(res)
	if err != nil {
		return
	}

	setGaugeVec(c.consumables, "main_brush", cs.MainBrush)
	setGaugeVec(c.consumables, "side_brush", cs.SideBrush)
	setGaugeVec(c.consumables, "filter", cs.Filter)
	setGaugeVec(c.consumables, "sensor", cs.SensorDirty)
}

func (c *MetricsCollector) collectAll(ch chan<- prometheus.Metric) {
	c.scrapeSuccess.Collect(ch)
	c.lastSuccess.Collect(ch)
	c.battery.Collect(ch)
	c.state.Collect(ch)
	c.cleanArea.Collect(ch)
	c.cleanTime.Collect(ch)
	c.fanPower.Collect(ch)
	c.errorCode.Collect(ch)
	c.inCleaning.Collect(ch)
	c.consumables.Collect(ch)
}

func setGauge(g prometheus.Gauge, value *float64) {
	if value == nil {
		return
	}
	g.Set(*value)
}

func setGaugeInt(g prometheus.Gauge, value *int) {
	if value == nil {
		return
	}
	g.Set(float64(*value))
}

func setGaugeVec(g *prometheus.GaugeVec, consumable string, value *float64) {
	if value == nil {
		return
	}
	g.WithLabelValues(consumable).Set(*value)
}

// NewInstrumentedHTTPClient returns an HTTP client whose transport records
// request counts and latencies in reg.
func NewInstrumentedHTTPClient(timeout time.Duration, reg prometheus.Registerer) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "valetudo_http_requests_total",
		Help: "Requests sent to the robot by status code and method",
	}, []string{"code", "method"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "valetudo_http_request_duration_seconds",
		Help:    "Latency of requests sent to the robot",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"method"})

	if reg != nil {
		if err := reg.Register(requests); err != nil {
			return nil, fmt.Errorf("registering request counter: %w", err)
		}
		if err := reg.Register(duration); err != nil {
			return nil, fmt.Errorf("registering request histogram: %w", err)
		}
	}

	transport := promhttp.InstrumentRoundTripperCounter(requests,
		promhttp.InstrumentRoundTripperDuration(duration, http.DefaultTransport))

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}
