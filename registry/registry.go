package registry

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	protoparserparser "github.com/yoheimuta/go-protoparser/v4/parser"

	"github.com/anirudhraja/protostream/schema"
)

// Registry stores the schema of protobuf messages. Field definitions handed
// to the stream decoder and encoder are looked up here.
//
// A Registry is not safe for concurrent loading; once loaded it may be read
// from any number of goroutines.
type Registry struct {
	// ProtoDirectories are the import roots searched for imported .proto files.
	ProtoDirectories []string
	Logger           log.Logger

	repo            *schema.ProtoRepo
	parsedProtoBody map[string]*protoparserparser.Proto // path -> parsed file, not yet built
	buildOrder      []string                            // parsed files, imports first
	loadedFiles     map[string]struct{}                 // files already turned into schema

	messages map[string]*schema.Message // fully qualified name -> message
	enums    map[string]*schema.Enum    // fully qualified name -> enum
	symbols  map[string]struct{}        // every message and enum name

	index   []*schema.Message
	indexOf map[*schema.Message]int
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.init()
	return r
}

func (r *Registry) init() {
	if r.messages != nil {
		return
	}
	if r.Logger == nil {
		r.Logger = log.NewNopLogger()
	}
	r.repo = &schema.ProtoRepo{ProtoFiles: make(map[string]*schema.ProtoFile)}
	r.parsedProtoBody = make(map[string]*protoparserparser.Proto)
	r.loadedFiles = make(map[string]struct{})
	r.messages = make(map[string]*schema.Message)
	r.enums = make(map[string]*schema.Enum)
	r.symbols = make(map[string]struct{})
	r.indexOf = make(map[*schema.Message]int)
}

// LoadSchema loads a .proto file, or every .proto file below a directory,
// together with everything they import. The file's directory (or the
// directory itself) is added to ProtoDirectories.
func (r *Registry) LoadSchema(protoPath string) error {
	r.init()

	info, err := os.Stat(protoPath)
	if err != nil {
		return errors.Wrap(err, "path does not exist")
	}

	if !info.IsDir() {
		if !strings.HasSuffix(protoPath, ".proto") {
			return errors.Errorf("file %s is not a .proto file", protoPath)
		}
		r.addImportRoot(filepath.Dir(protoPath))
		if err := r.loadProtoFile(protoPath); err != nil {
			return errors.Wrap(err, "failed to load proto file")
		}
	} else {
		r.addImportRoot(protoPath)
		err = filepath.WalkDir(protoPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".proto") {
				return nil
			}
			if err := r.loadProtoFile(path); err != nil {
				return errors.Wrapf(err, "failed to load proto file %s", path)
			}
			return nil
		})
		if err != nil {
			return errors.Wrap(err, "failed to walk directory")
		}
	}

	if err := r.buildSymbolTable(); err != nil {
		return errors.Wrap(err, "failed to build symbol table")
	}
	return nil
}

// LoadProto loads a single .proto source. name identifies the file; its
// imports are resolved through ProtoDirectories.
func (r *Registry) LoadProto(name string, rd io.Reader) error {
	r.init()
	if err := r.loadProtoTree(filepath.Clean(name), rd); err != nil {
		return errors.Wrapf(err, "failed to load proto %s", name)
	}
	if err := r.buildSymbolTable(); err != nil {
		return errors.Wrap(err, "failed to build symbol table")
	}
	return nil
}

func (r *Registry) addImportRoot(dir string) {
	dir = filepath.Clean(dir)
	for _, d := range r.ProtoDirectories {
		if filepath.Clean(d) == dir {
			return
		}
	}
	r.ProtoDirectories = append(r.ProtoDirectories, dir)
}

// buildSymbolTable turns every parsed but unbuilt file into schema types.
func (r *Registry) buildSymbolTable() error {
	var builders []*fileBuilder

	// Pass 1: register all message and enum names
	for _, path := range r.buildOrder {
		if _, ok := r.loadedFiles[path]; ok {
			continue
		}
		b := newFileBuilder(r, path, r.parsedProtoBody[path])
		if err := b.build(); err != nil {
			return errors.Wrapf(err, "in %s", path)
		}
		r.loadedFiles[path] = struct{}{}
		delete(r.parsedProtoBody, path)
		builders = append(builders, b)
	}
	r.buildOrder = r.buildOrder[:0]

	// Pass 2: resolve message and enum references
	for _, b := range builders {
		if err := b.resolve(); err != nil {
			return errors.Wrapf(err, "in %s", b.file.Name)
		}
		level.Debug(r.Logger).Log("msg", "loaded proto file", "path", b.file.Name, "messages", len(b.file.Messages))
	}
	return nil
}

func (r *Registry) registerMessage(msg *schema.Message) error {
	if _, ok := r.symbols[msg.Name]; ok {
		return errors.Errorf("duplicate definition of %s", msg.Name)
	}
	r.symbols[msg.Name] = struct{}{}
	r.messages[msg.Name] = msg
	r.indexOf[msg] = len(r.index)
	r.index = append(r.index, msg)
	return nil
}

func (r *Registry) registerEnum(enum *schema.Enum) error {
	if _, ok := r.symbols[enum.Name]; ok {
		return errors.Errorf("duplicate definition of %s", enum.Name)
	}
	r.symbols[enum.Name] = struct{}{}
	r.enums[enum.Name] = enum
	return nil
}

func (r *Registry) getFullName(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}

// GetMessage retrieves a message definition by fully qualified name, or by
// a name suffix when that is unambiguous.
func (r *Registry) GetMessage(name string) (*schema.Message, error) {
	name = strings.TrimPrefix(name, ".")
	if msg, exists := r.messages[name]; exists {
		return msg, nil
	}

	var found *schema.Message
	for fullName, msg := range r.messages {
		if strings.HasSuffix(fullName, "."+name) {
			if found != nil {
				return nil, errors.Errorf("message name %s is ambiguous", name)
			}
			found = msg
		}
	}
	if found == nil {
		return nil, errors.Errorf("message not found: %s", name)
	}
	return found, nil
}

// GetEnum retrieves an enum definition by name, like GetMessage.
func (r *Registry) GetEnum(name string) (*schema.Enum, error) {
	name = strings.TrimPrefix(name, ".")
	if enum, exists := r.enums[name]; exists {
		return enum, nil
	}

	var found *schema.Enum
	for fullName, enum := range r.enums {
		if strings.HasSuffix(fullName, "."+name) {
			if found != nil {
				return nil, errors.Errorf("enum name %s is ambiguous", name)
			}
			found = enum
		}
	}
	if found == nil {
		return nil, errors.Errorf("enum not found: %s", name)
	}
	return found, nil
}

// GetFile returns a loaded file by the path it was loaded under.
func (r *Registry) GetFile(path string) (*schema.ProtoFile, bool) {
	if r.repo == nil {
		return nil, false
	}
	f, ok := r.repo.ProtoFiles[path]
	return f, ok
}

// ListMessages returns all registered message names, sorted.
func (r *Registry) ListMessages() []string {
	names := make([]string, 0, len(r.messages))
	for name := range r.messages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListEnums returns all registered enum names, sorted.
func (r *Registry) ListEnums() []string {
	names := make([]string, 0, len(r.enums))
	for name := range r.enums {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MessageIndex returns a small integer handle for msg that stays valid for
// the lifetime of the registry, or -1 for messages it does not own.
func (r *Registry) MessageIndex(msg *schema.Message) int {
	if i, ok := r.indexOf[msg]; ok {
		return i
	}
	return -1
}

// MessageAt returns the message for a handle from MessageIndex, or nil.
func (r *Registry) MessageAt(i int) *schema.Message {
	if i < 0 || i >= len(r.index) {
		return nil
	}
	return r.index[i]
}
