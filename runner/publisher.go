package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"
)

// DefaultPublishInterval is the cadence at which the snapshot publisher
// forwards the latest snapshot, decoupled from outcome arrival rate.
const DefaultPublishInterval = time.Second

// Publisher receives live snapshots on a cadence and the terminal
// report once. Delivery medium (websocket, log, HTTP collector) is up
// to the implementation; implementations must tolerate being called
// from the run's publisher goroutine.
type Publisher interface {
	PublishSnapshot(testID string, s Snapshot)
	PublishReport(testID string, r Report)
}

// LogPublisher writes snapshots and reports to the process log. Used by
// CLI runs.
type LogPublisher struct{}

func (LogPublisher) PublishSnapshot(testID string, s Snapshot) {
	log.Infof("[%s] %d requests, %d errors, %.1f req/s, avg %.1fms p95 %.1fms",
		testID, s.Count, s.Errors, s.RequestsPerSec, s.AvgMs, s.P95Ms)
}

func (LogPublisher) PublishReport(testID string, r Report) {
	log.Infof("[%s] finished %s: %d requests, %d errors in %s",
		testID, r.State, r.Final.Count, r.Final.Errors, r.Final.Elapsed.Round(time.Millisecond))
}

// HTTPPublisher POSTs snapshots and reports as JSON to an external
// collector endpoint. Collector hiccups are retried with bounded
// exponential backoff and then dropped; publishing is best-effort and
// never blocks the run's outcome pipeline.
type HTTPPublisher struct {
	URL    string
	client *pester.Client
}

func NewHTTPPublisher(url string, timeout time.Duration) *HTTPPublisher {
	c := pester.New()
	c.Concurrency = 1
	c.MaxRetries = 1
	c.Timeout = timeout
	return &HTTPPublisher{URL: url, client: c}
}

func (p *HTTPPublisher) PublishSnapshot(testID string, s Snapshot) {
	p.post("snapshot", testID, s)
}

func (p *HTTPPublisher) PublishReport(testID string, r Report) {
	p.post("report", testID, r)
}

func (p *HTTPPublisher) post(kind, testID string, payload interface{}) {
	body, err := json.Marshal(map[string]interface{}{
		"type":    kind,
		"test_id": testID,
		"data":    payload,
	})
	if err != nil {
		log.Errorf("couldn't marshal %s for %s: %v", kind, testID, err)
		return
	}
	send := func() error {
		resp, err := p.client.Post(p.URL, "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("collector returned %d", resp.StatusCode)
		}
		return nil
	}
	if err := backoff.Retry(send, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)); err != nil {
		log.Warnf("dropping %s for %s: %v", kind, testID, err)
	}
}

var _ Publisher = (*HTTPPublisher)(nil)
var _ Publisher = LogPublisher{}

// publishLoop forwards the latest snapshot at a fixed cadence until
// stopped. Snapshots are deduplicated by sequence number so an idle run
// is not re-published.
func publishLoop(pub Publisher, testID string, agg *Aggregator, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeq int64 = -1
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s := agg.Latest()
			if s.Seq == lastSeq {
				continue
			}
			lastSeq = s.Seq
			pub.PublishSnapshot(testID, s)
		}
	}
}
