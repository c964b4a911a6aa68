// -----------------------------------------------------------------------
// KV-cache backpressure. Expert endpoints expose a Prometheus-style
// /metrics page; the gateway reads the cache utilization gauge and slows
// or defers work when the endpoint is saturated.
// -----------------------------------------------------------------------

package llm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/loomworks/loom/internal/interfaces"
)

const (
	utilizationDelayThreshold  = 0.85
	utilizationRejectThreshold = 0.95
)

// Gauge names recognized across inference-server flavors
var kvCacheGaugeNames = []string{
	"vllm:gpu_cache_usage_perc",
	"gpu_cache_usage_perc",
	"kv_cache_usage",
	"kv_cache_utilization",
}

// ClassifyUtilization maps a utilization value to a backpressure action.
// Accepts both 0-1 and 0-100 scales.
func ClassifyUtilization(value float64) interfaces.BackpressureAction {
	if value > 1.0 {
		value = value / 100.0
	}
	switch {
	case value >= utilizationRejectThreshold:
		return interfaces.BackpressureRetryLater
	case value >= utilizationDelayThreshold:
		return interfaces.BackpressureDelay
	default:
		return interfaces.BackpressureProceed
	}
}

// FetchUtilization scrapes the endpoint's /metrics page for the KV-cache
// gauge. Returns (0, false) when the page is unreachable or carries no
// recognized gauge; the caller treats that as proceed.
func FetchUtilization(ctx context.Context, client *http.Client, baseURL string) (float64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/metrics", nil)
	if err != nil {
		return 0, false
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false
	}
	return parseUtilization(resp.Body)
}

// parseUtilization scans Prometheus text-format lines for the first
// recognized KV-cache gauge.
func parseUtilization(r io.Reader) (float64, bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, value, ok := splitMetricLine(line)
		if !ok {
			continue
		}
		for _, gauge := range kvCacheGaugeNames {
			if name == gauge {
				return value, true
			}
		}
	}
	return 0, false
}

// splitMetricLine parses `name{labels} value` or `name value`
func splitMetricLine(line string) (string, float64, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", 0, false
	}

	name := fields[0]
	if idx := strings.IndexByte(name, '{'); idx >= 0 {
		name = name[:idx]
	}

	value, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return "", 0, false
	}
	return name, value, true
}

// describeAction renders an action for logging
func describeAction(action interfaces.BackpressureAction, value float64) string {
	return fmt.Sprintf("%s (utilization %.2f)", action, value)
}
