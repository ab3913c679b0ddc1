package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/snappy"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
)

// StartRemoteWrite periodically pushes every gathered metric to the
// configured Prometheus remote-write endpoint. It blocks until ctx is
// cancelled. An empty URL disables the loop entirely.
func (c *Collector) StartRemoteWrite(ctx context.Context, logger *zap.Logger) {
	if c.config.URL == "" {
		logger.Info("Remote write disabled, no endpoint configured")
		return
	}

	client := &http.Client{Timeout: 30 * time.Second}
	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	logger.Info("Remote write started",
		zap.String("url", c.config.URL),
		zap.Duration("flush_interval", c.config.FlushInterval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.flush(ctx, client); err != nil {
				logger.Error("Failed to flush remote write", zap.Error(err))
			}
		}
	}
}

func (c *Collector) flush(ctx context.Context, client *http.Client) error {
	mfs, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	series := familiesToSeries(mfs)
	if len(series) == 0 {
		return nil
	}

	batchSize := c.config.BatchSize
	if batchSize <= 0 {
		batchSize = len(series)
	}
	for i := 0; i < len(series); i += batchSize {
		end := i + batchSize
		if end > len(series) {
			end = len(series)
		}
		if err := c.sendBatch(ctx, client, series[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func familiesToSeries(mfs []*dto.MetricFamily) []prompb.TimeSeries {
	var series []prompb.TimeSeries
	now := time.Now().UnixMilli()

	for _, mf := range mfs {
		for _, m := range mf.Metric {
			base := make([]prompb.Label, 0, len(m.Label)+2)
			for _, l := range m.Label {
				base = append(base, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
			}

			named := func(suffix string, extra ...prompb.Label) []prompb.Label {
				labels := append([]prompb.Label{}, base...)
				labels = append(labels, prompb.Label{Name: "__name__", Value: mf.GetName() + suffix})
				return append(labels, extra...)
			}
			sample := func(labels []prompb.Label, value float64) {
				series = append(series, prompb.TimeSeries{
					Labels:  labels,
					Samples: []prompb.Sample{{Value: value, Timestamp: now}},
				})
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				sample(named(""), m.Counter.GetValue())
			case dto.MetricType_GAUGE:
				sample(named(""), m.Gauge.GetValue())
			case dto.MetricType_HISTOGRAM:
				hist := m.Histogram
				for _, bucket := range hist.Bucket {
					le := prompb.Label{Name: "le", Value: fmt.Sprintf("%g", bucket.GetUpperBound())}
					sample(named("_bucket", le), float64(bucket.GetCumulativeCount()))
				}
				inf := prompb.Label{Name: "le", Value: "+Inf"}
				sample(named("_bucket", inf), float64(hist.GetSampleCount()))
				sample(named("_sum"), hist.GetSampleSum())
				sample(named("_count"), float64(hist.GetSampleCount()))
			}
		}
	}

	return series
}

func (c *Collector) sendBatch(ctx context.Context, client *http.Client, series []prompb.TimeSeries) error {
	req := &prompb.WriteRequest{Timeseries: series}

	data, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal write request: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(compressed))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if c.config.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("remote write failed: %s", resp.Status)
	}
	return nil
}
