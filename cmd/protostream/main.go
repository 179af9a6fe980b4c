// Command protostream converts and inspects protobuf messages using schemas
// loaded at runtime.
//
// Usage:
//
//	protostream -proto schema.proto -type pkg.Msg [flags] transcode|dump|encode|list
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/anirudhraja/protostream"
	"github.com/anirudhraja/protostream/parser"
	"github.com/anirudhraja/protostream/schema"
	"github.com/anirudhraja/protostream/stream"
)

type config struct {
	Protos        stringList
	ImportDirs    stringList
	DescriptorSet string
	MessageType   string
	Input         string
	Output        string
	InCompression stream.Compression
	OutCompress   stream.Compression
	LogLevel      string
	Parser        parser.Config
}

func (c *config) RegisterFlags(f *flag.FlagSet) {
	f.Var(&c.Protos, "proto", "Path of a .proto file or directory to load. May be repeated.")
	f.Var(&c.ImportDirs, "I", "Import root for .proto files. May be repeated.")
	f.StringVar(&c.DescriptorSet, "descriptor-set", "", "Path of a serialized FileDescriptorSet to load.")
	f.StringVar(&c.MessageType, "type", "", "Fully qualified message type of the input.")
	f.StringVar(&c.Input, "in", "-", "Input file, - for stdin.")
	f.StringVar(&c.Output, "out", "-", "Output file, - for stdout.")
	f.Var(&c.InCompression, "in.compression", fmt.Sprintf("Compression of the input, one of %s.", strings.Join(stream.SupportedCompressions(), ", ")))
	f.Var(&c.OutCompress, "out.compression", fmt.Sprintf("Compression of the output, one of %s.", strings.Join(stream.SupportedCompressions(), ", ")))
	f.StringVar(&c.LogLevel, "log.level", "info", "Only log messages with the given severity or above. Valid levels: [debug, info, warn, error]")
	c.Parser.RegisterFlags(f)
}

func (c *config) Validate() error {
	if len(c.Protos) == 0 && c.DescriptorSet == "" {
		return errors.New("one of -proto or -descriptor-set is required")
	}
	if _, err := levelOption(c.LogLevel); err != nil {
		return err
	}
	return c.Parser.Validate()
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func levelOption(l string) (level.Option, error) {
	switch l {
	case "debug":
		return level.AllowDebug(), nil
	case "info":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	}
	return nil, errors.Errorf("unrecognized log level %q", l)
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "protostream: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var cfg config
	fs := flag.NewFlagSet("protostream", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one command: transcode, dump, encode or list")
	}

	opt, _ := levelOption(cfg.LogLevel)
	logger := level.NewFilter(log.NewLogfmtLogger(log.NewSyncWriter(stderr)), opt)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	p := protostream.New(
		protostream.WithLogger(logger),
		protostream.WithParserConfig(cfg.Parser),
		protostream.WithProtoDirectories(cfg.ImportDirs...),
	)
	if err := loadSchemas(p, cfg); err != nil {
		return err
	}

	cmd := fs.Arg(0)
	if cmd == "list" {
		w := bufio.NewWriter(stdout)
		for _, m := range p.ListMessages() {
			fmt.Fprintln(w, m)
		}
		for _, e := range p.ListEnums() {
			fmt.Fprintln(w, "enum", e)
		}
		return w.Flush()
	}
	if cfg.MessageType == "" {
		return errors.New("-type is required")
	}

	in, err := openInput(cfg.Input, stdin)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := openOutput(cfg.Output, stdout)
	if err != nil {
		return err
	}
	defer out.Close()

	level.Debug(logger).Log("msg", "running", "command", cmd, "type", cfg.MessageType)
	switch cmd {
	case "transcode":
		err = p.Transcode(in, cfg.InCompression, out, cfg.OutCompress, cfg.MessageType)
	case "dump":
		err = dump(p, in, cfg.InCompression, out, cfg.MessageType)
	case "encode":
		err = encode(p, in, out, cfg.OutCompress, cfg.MessageType)
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return errors.Wrap(err, cmd)
	}
	return out.Close()
}

func loadSchemas(p *protostream.Protostream, cfg config) error {
	if cfg.DescriptorSet != "" {
		b, err := os.ReadFile(cfg.DescriptorSet)
		if err != nil {
			return err
		}
		var set descriptorpb.FileDescriptorSet
		if err := proto.Unmarshal(b, &set); err != nil {
			return errors.Wrapf(err, "parse descriptor set %s", cfg.DescriptorSet)
		}
		if err := p.LoadFileDescriptorSet(&set); err != nil {
			return err
		}
	}
	for _, path := range cfg.Protos {
		if err := p.LoadSchema(path); err != nil {
			return errors.Wrapf(err, "load %s", path)
		}
	}
	return nil
}

func openInput(name string, stdin io.Reader) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(stdin), nil
	}
	return os.Open(name)
}

// openOutput returns a WriteCloser whose Close may be called more than once.
func openOutput(name string, stdout io.Writer) (io.WriteCloser, error) {
	if name == "-" {
		return &onceCloser{Writer: stdout}, nil
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return &onceCloser{Writer: f, close: f.Close}, nil
}

type onceCloser struct {
	io.Writer
	close  func() error
	closed bool
}

func (c *onceCloser) Close() error {
	if c.closed || c.close == nil {
		return nil
	}
	c.closed = true
	return c.close()
}

// dump prints one line per field: its path and value.
func dump(p *protostream.Protostream, r io.Reader, c stream.Compression, w io.Writer, messageType string) error {
	zr, err := c.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	err = p.Walk(data, messageType, func(path []string, f *schema.Field, v interface{}) error {
		name := strings.Join(path, ".")
		switch v := v.(type) {
		case nil:
			_, err := fmt.Fprintf(bw, "%s: %s\n", name, f.TypeName)
			return err
		case []byte:
			_, err := fmt.Fprintf(bw, "%s = %q\n", name, v)
			return err
		default:
			_, err := fmt.Fprintf(bw, "%s = %v\n", name, v)
			return err
		}
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

// encode reads a JSON object keyed by field name and writes it as protobuf.
// Enum values may be given by name.
func encode(p *protostream.Protostream, r io.Reader, w io.Writer, c stream.Compression, messageType string) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var data map[string]interface{}
	if err := dec.Decode(&data); err != nil {
		return errors.Wrap(err, "read json")
	}
	zw, err := c.NewWriter(w)
	if err != nil {
		return err
	}
	if err := p.MarshalTo(zw, data, messageType); err != nil {
		return err
	}
	return zw.Close()
}
