package score

import (
	"context"
	"fmt"
	"io"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// promProvider reads scores from a Prometheus text exposition, e.g.
//
//	# TYPE squeeze_score gauge
//	squeeze_score{ticker="GME"} 72.4
//
// The sample is selected by metric family name and the ticker label.
type promProvider struct {
	endpoint string
	metric   string
	label    string
	client   *http.Client
}

func (p *promProvider) GetScore(ctx context.Context, ticker string) (float64, error) {
	mfs, err := fetchMetrics(ctx, p.client, p.endpoint)
	if err != nil {
		return 0, err
	}
	mf, ok := mfs[p.metric]
	if !ok {
		return 0, fmt.Errorf("metric %q not exposed", p.metric)
	}
	v, ok := sampleFor(mf, p.label, ticker)
	if !ok {
		return 0, fmt.Errorf("metric %q has no sample with %s=%q", p.metric, p.label, ticker)
	}
	return v, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(io.LimitReader(resp.Body, maxResponseBytes))
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sampleFor returns the gauge, untyped or counter value of the sample whose
// label equals want.
func sampleFor(mf *dto.MetricFamily, label, want string) (float64, bool) {
	for _, m := range mf.GetMetric() {
		if !hasLabel(m, label, want) {
			continue
		}
		switch {
		case m.Gauge != nil:
			return m.Gauge.GetValue(), true
		case m.Untyped != nil:
			return m.Untyped.GetValue(), true
		case m.Counter != nil:
			return m.Counter.GetValue(), true
		}
	}
	return 0, false
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
