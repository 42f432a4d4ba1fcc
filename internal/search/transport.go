package search

import (
	"net/http"
	"strconv"
	"time"

	"productload/internal/metrics"
)

// instrumentedTransport records one metrics sample per request.
type instrumentedTransport struct {
	next http.RoundTripper
}

func instrument(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &instrumentedTransport{next: next}
}

func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	res, err := t.next.RoundTrip(req)
	if err != nil {
		metrics.RecordHTTP("error", time.Since(start), true)
		return nil, err
	}
	metrics.RecordHTTP(strconv.Itoa(res.StatusCode), time.Since(start), res.StatusCode >= 400)
	return res, nil
}
