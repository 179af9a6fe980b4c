// Package protostream reads and writes protobuf messages as streams of
// fields, driven by schemas loaded at runtime instead of generated code.
package protostream

import (
	"bytes"
	"io"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/anirudhraja/protostream/parser"
	"github.com/anirudhraja/protostream/registry"
	"github.com/anirudhraja/protostream/schema"
	"github.com/anirudhraja/protostream/stream"
)

// Protostream provides schema-aware protobuf streaming without generated code.
type Protostream struct {
	registry *registry.Registry
	cfg      parser.Config
	logger   log.Logger
	metrics  *stream.Metrics
}

// Option configures a Protostream.
type Option func(*Protostream)

// WithLogger sets the logger handed to the registry, parsers and relays.
func WithLogger(logger log.Logger) Option {
	return func(p *Protostream) { p.logger = logger }
}

// WithParserConfig sets the parser options used by every decoder.
func WithParserConfig(cfg parser.Config) Option {
	return func(p *Protostream) { p.cfg = cfg }
}

// WithMetrics registers relay metrics with reg; Transcode reports to them.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(p *Protostream) { p.metrics = stream.NewMetrics(reg) }
}

// WithProtoDirectories adds import roots for .proto files.
func WithProtoDirectories(dirs ...string) Option {
	return func(p *Protostream) {
		p.registry.ProtoDirectories = append(p.registry.ProtoDirectories, dirs...)
	}
}

// New creates a new Protostream instance
func New(opts ...Option) *Protostream {
	p := &Protostream{
		registry: registry.NewRegistry(),
		logger:   log.NewNopLogger(),
	}
	for _, o := range opts {
		o(p)
	}
	p.registry.Logger = p.logger
	if p.cfg.Logger == nil {
		p.cfg.Logger = p.logger
	}
	return p
}

// LoadSchema loads a .proto file or a directory of them.
func (p *Protostream) LoadSchema(path string) error {
	return p.registry.LoadSchema(path)
}

// LoadProto loads one .proto source named name.
func (p *Protostream) LoadProto(name string, r io.Reader) error {
	return p.registry.LoadProto(name, r)
}

// LoadDescriptor loads a compiled file descriptor, e.g. from generated code.
func (p *Protostream) LoadDescriptor(fd protoreflect.FileDescriptor) error {
	return p.registry.LoadDescriptor(fd)
}

// LoadFileDescriptorSet loads the output of protoc --descriptor_set_out.
func (p *Protostream) LoadFileDescriptorSet(set *descriptorpb.FileDescriptorSet) error {
	return p.registry.LoadFileDescriptorSet(set)
}

func (p *Protostream) message(messageType string) (*schema.Message, error) {
	msg, err := p.registry.GetMessage(messageType)
	if err != nil {
		return nil, errors.Wrapf(err, "message type not found: %s", messageType)
	}
	return msg, nil
}

// NewDecoder returns a field Source reading messageType from src.
func (p *Protostream) NewDecoder(src stream.ByteSource, messageType string) (*stream.Decoder, error) {
	msg, err := p.message(messageType)
	if err != nil {
		return nil, err
	}
	return stream.NewDecoder(src, msg, p.cfg), nil
}

// NewEncoder returns a field Sink writing to dst.
func (p *Protostream) NewEncoder(dst stream.ByteSink) *stream.Encoder {
	return stream.NewEncoder(dst, p.logger)
}

// Transcode reads one messageType message from r, compressed with rc, and
// writes it to w compressed with wc. Unknown fields are dropped on the way.
func (p *Protostream) Transcode(r io.Reader, rc stream.Compression, w io.Writer, wc stream.Compression, messageType string) error {
	msg, err := p.message(messageType)
	if err != nil {
		return err
	}
	in, err := rc.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "open input")
	}
	defer in.Close()
	out, err := wc.NewWriter(w)
	if err != nil {
		return errors.Wrap(err, "open output")
	}

	relay := stream.Relay{Logger: p.logger, Metrics: p.metrics}
	err = relay.Run(stream.NewDecoder(stream.NewReaderSource(in), msg, p.cfg), p.NewEncoder(stream.NewWriterSink(out)))
	if cerr := out.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "close output")
	}
	return err
}

// Parse decodes protobuf bytes into a map keyed by field name. Scalars use
// their natural Go types, enums are int32, bytes []byte, repeated fields
// []interface{} and map fields map[interface{}]interface{}.
func (p *Protostream) Parse(data []byte, messageType string) (map[string]interface{}, error) {
	msg, err := p.message(messageType)
	if err != nil {
		return nil, err
	}
	return decodeMessage(stream.NewDecoder(stream.NewBytesSource(data), msg, p.cfg), msg)
}

// ParseReader is Parse for input read from r.
func (p *Protostream) ParseReader(r io.Reader, messageType string) (map[string]interface{}, error) {
	msg, err := p.message(messageType)
	if err != nil {
		return nil, err
	}
	return decodeMessage(stream.NewDecoder(stream.NewReaderSource(r), msg, p.cfg), msg)
}

// Marshal encodes a map to protobuf bytes using schema information. Fields
// are written in field number order and map entries in key order.
func (p *Protostream) Marshal(data map[string]interface{}, messageType string) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.MarshalTo(&buf, data, messageType); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalTo is Marshal writing to w. Completed top-level fields reach w
// while later ones are still being encoded.
func (p *Protostream) MarshalTo(w io.Writer, data map[string]interface{}, messageType string) error {
	msg, err := p.message(messageType)
	if err != nil {
		return err
	}
	e := p.NewEncoder(stream.NewWriterSink(w))
	if err := (mapEncoder{registry: p.registry}).encodeMessage(e, data, msg); err != nil {
		return errors.Wrapf(err, "failed to encode %s", messageType)
	}
	return e.Flush()
}

// ===== REGISTRY ACCESS =====

func (p *Protostream) Registry() *registry.Registry { return p.registry }
func (p *Protostream) ListMessages() []string       { return p.registry.ListMessages() }
func (p *Protostream) ListEnums() []string          { return p.registry.ListEnums() }
