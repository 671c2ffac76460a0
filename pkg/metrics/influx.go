package metrics

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/shopspring/decimal"
)

// Recorder writes operation measurements to InfluxDB using the
// non-blocking write API. A nil Recorder is a valid no-op sink.
type Recorder struct {
	client influxdb2.Client
	write  api.WriteAPI
}

// NewRecorder connects to InfluxDB and targets org/bucket.
func NewRecorder(url, token, org, bucket string) *Recorder {
	client := influxdb2.NewClient(url, token)
	return &Recorder{
		client: client,
		write:  client.WriteAPI(org, bucket),
	}
}

// RecordOperation writes one point per completed deposit or withdrawal,
// tagged by kind and asset, with the canonical total as a gauge.
func (r *Recorder) RecordOperation(kind, asset string, native, canonical, total decimal.Decimal) {
	if r == nil {
		return
	}
	p := influxdb2.NewPoint("vault_operation",
		map[string]string{"kind": kind, "asset": asset},
		map[string]interface{}{
			"native_amount":   native.InexactFloat64(),
			"canonical_value": canonical.InexactFloat64(),
			"canonical_total": total.InexactFloat64(),
		},
		time.Now(),
	)
	r.write.WritePoint(p)
}

// Close flushes pending writes and shuts the client down.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.write.Flush()
	r.client.Close()
}
