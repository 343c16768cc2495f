package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds every slipterm metric instrument: frames decoded per
// channel, requests issued, responses matched by bucket (job table /
// log / spontaneous), tunnel packets per direction, and transport
// reconnect count.
type Metrics struct {
	FramesDecoded     metric.Int64Counter
	RequestsIssued    metric.Int64Counter
	ResponsesMatched  metric.Int64Counter
	TunnelPackets     metric.Int64Counter
	ReconnectCount    metric.Int64Counter
	JobTableSize      metric.Int64UpDownCounter
}

// NewMetrics creates every instrument from meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.FramesDecoded, err = meter.Int64Counter("slipterm.frames.decoded",
		metric.WithDescription("Slipmux frames decoded, by channel"))
	if err != nil {
		return nil, err
	}

	m.RequestsIssued, err = meter.Int64Counter("slipterm.coap.requests",
		metric.WithDescription("CoAP requests issued"))
	if err != nil {
		return nil, err
	}

	m.ResponsesMatched, err = meter.Int64Counter("slipterm.coap.responses",
		metric.WithDescription("CoAP responses matched, by bucket (job, log, spontaneous)"))
	if err != nil {
		return nil, err
	}

	m.TunnelPackets, err = meter.Int64Counter("slipterm.tunnel.packets",
		metric.WithDescription("Tunnel packets shuttled, by direction"))
	if err != nil {
		return nil, err
	}

	m.ReconnectCount, err = meter.Int64Counter("slipterm.transport.reconnects",
		metric.WithDescription("Transport reconnect attempts"))
	if err != nil {
		return nil, err
	}

	m.JobTableSize, err = meter.Int64UpDownCounter("slipterm.jobs.inflight",
		metric.WithDescription("Number of in-flight jobs"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
