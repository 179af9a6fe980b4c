package stream

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what Relay moves.
type Metrics struct {
	fields      *prometheus.CounterVec
	stringBytes prometheus.Counter
	failures    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		fields: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "protostream_relay_fields_total",
			Help: "Total number of fields relayed, by kind.",
		}, []string{"kind"}),
		stringBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "protostream_relay_string_bytes_total",
			Help: "Total number of string and bytes payload bytes relayed.",
		}),
		failures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "protostream_relay_failures_total",
			Help: "Total number of relays that ended with an error.",
		}),
	}
}

// flusher is implemented by sinks that buffer output, like Encoder.
type flusher interface {
	Flush() error
}

// Relay pumps every field of a Source into a Sink. Logger and Metrics are
// optional.
type Relay struct {
	Logger  log.Logger
	Metrics *Metrics
}

// Copy relays src into sink with a zero Relay.
func Copy(src Source, sink Sink) error {
	return Relay{}.Run(src, sink)
}

// Run copies fields until src reports end of input at the top level. The
// first error from either side is returned unchanged. The sink is flushed
// only when everything was copied.
func (r Relay) Run(src Source, sink Sink) error {
	c := copier{Relay: r, src: src, sink: sink}
	err := c.copyMessage()
	if err == nil {
		if f, ok := sink.(flusher); ok {
			err = f.Flush()
		}
	}
	if err != nil {
		if r.Logger != nil {
			level.Warn(r.Logger).Log("msg", "relay failed", "err", err)
		}
		if r.Metrics != nil {
			r.Metrics.failures.Inc()
		}
		return err
	}
	return nil
}

type copier struct {
	Relay
	src  Source
	sink Sink
	str  []byte
}

// copyMessage copies the fields of one message. It returns when the source
// reports the end of that message.
func (c *copier) copyMessage() error {
	for {
		f, ok := c.src.Next()
		if !ok {
			if c.src.EOF() {
				return nil
			}
			if err := c.src.Err(); err != nil {
				return err
			}
			return errors.New("stream: source stopped without end of input or error")
		}
		if _, err := c.sink.Put(f); err != nil {
			return err
		}

		var kind string
		switch {
		case f.Type.IsSubmessage():
			kind = "message"
			if err := c.src.EnterSubmessage(); err != nil {
				return err
			}
			if err := c.sink.StartSubmessage(); err != nil {
				return err
			}
			if err := c.copyMessage(); err != nil {
				return err
			}
			if err := c.src.ExitSubmessage(); err != nil {
				return err
			}
			if err := c.sink.EndSubmessage(); err != nil {
				return err
			}
		case f.Type.IsString():
			kind = "string"
			var err error
			if c.str, err = c.src.ReadString(c.str[:0]); err != nil {
				return err
			}
			if err := c.sink.WriteString(c.str); err != nil {
				return err
			}
			if c.Metrics != nil {
				c.Metrics.stringBytes.Add(float64(len(c.str)))
			}
		default:
			kind = "scalar"
			v, err := c.src.ReadValue()
			if err != nil {
				return err
			}
			if err := c.sink.WriteValue(v); err != nil {
				return err
			}
		}
		if c.Metrics != nil {
			c.Metrics.fields.WithLabelValues(kind).Inc()
		}
	}
}
