package registry

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	protoparser "github.com/yoheimuta/go-protoparser/v4"
	protoparserparser "github.com/yoheimuta/go-protoparser/v4/parser"
)

func (r *Registry) loadProtoFile(path string) error {
	path = filepath.Clean(path)
	if r.seen(path) {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return r.loadProtoTree(path, f)
}

func (r *Registry) seen(path string) bool {
	if _, ok := r.parsedProtoBody[path]; ok {
		return true
	}
	_, ok := r.loadedFiles[path]
	return ok
}

// loadProtoTree parses one file and then, depth first, every file it
// imports. Files land in buildOrder after their imports.
func (r *Registry) loadProtoTree(path string, rd io.Reader) error {
	if r.seen(path) {
		return nil
	}
	parsedBody, err := protoparser.Parse(rd)
	if err != nil {
		return errors.Wrapf(err, "failed to parse %s", path)
	}
	// Marked before recursing so import cycles terminate.
	r.parsedProtoBody[path] = parsedBody

	for _, body := range parsedBody.ProtoBody {
		imp, ok := body.(*protoparserparser.Import)
		if !ok {
			continue
		}
		importPath := strings.Trim(imp.Location, `"'`)
		if isWellKnown(importPath) {
			if err := r.loadWellKnown(importPath); err != nil {
				return err
			}
			continue
		}
		fullImportPath, err := r.findIfProtoExists(importPath)
		if err != nil {
			return err
		}
		if err := r.loadProtoFile(fullImportPath); err != nil {
			return err
		}
	}
	r.buildOrder = append(r.buildOrder, path)
	return nil
}

func (r *Registry) findIfProtoExists(protoPath string) (string, error) {
	var (
		fullPath      string
		fullProtoPath string
		err           error
	)
	protoPath = strings.Trim(protoPath, `"`)
	if !strings.HasSuffix(protoPath, ".proto") {
		return "", errors.Errorf("is not a .proto file %s", protoPath)
	}
	for _, dir := range r.ProtoDirectories {
		fullPath = filepath.Join(dir, protoPath)
		if _, err = os.Stat(fullPath); err == nil {
			fullProtoPath = fullPath
			break
		}
	}
	if fullProtoPath == "" {
		if err == nil {
			err = os.ErrNotExist
		}
		return "", errors.Wrapf(err, "import %s not found in %v", protoPath, r.ProtoDirectories)
	}
	return fullProtoPath, nil
}

/*
getReferencedType returns the fully qualified name of a referenced type, be it
nested, top level or imported. Resolution follows the protobuf scoping rules:
innermost scope first, then outward, then the name as written.
Ref - https://github.com/protocolbuffers/protobuf/blob/b7a5772caf08d62a20fd1bca258f501fa4db022c/src/google/protobuf/descriptor.proto#L186-L191
*/
func getReferencedType(typeName, prefix string, allResolvedEntities map[string]struct{}) (string, error) {
	// fully qualified, prefixed by dot
	if strings.HasPrefix(typeName, ".") {
		return getFullyQualifiedType(typeName, allResolvedEntities)
	}
	if result, ok := splitNameAndCheck(typeName, prefix, allResolvedEntities); ok {
		return result, nil
	}
	// referenced from another package via its package name
	if _, ok := allResolvedEntities[typeName]; ok {
		return typeName, nil
	}
	return "", errors.Errorf("unable to resolve type name: %s", typeName)
}

// splitNameAndCheck appends typeName to prefix and to each of its enclosing
// scopes in turn, innermost first.
func splitNameAndCheck(typeName, prefix string, allResolvedEntities map[string]struct{}) (string, bool) {
	prefixSplit := strings.Split(prefix, ".")

	for len(prefixSplit) > 0 && prefixSplit[0] != "" {
		entityName := strings.Join(prefixSplit, ".") + "." + typeName
		if _, ok := allResolvedEntities[entityName]; ok {
			return entityName, true
		}
		// go one level up to the outer entity
		prefixSplit = prefixSplit[:len(prefixSplit)-1]
	}
	return "", false
}

func getFullyQualifiedType(typeName string, allResolvedEntities map[string]struct{}) (string, error) {
	typeName = strings.TrimPrefix(typeName, ".")
	if _, ok := allResolvedEntities[typeName]; ok {
		return typeName, nil
	}
	return "", errors.Errorf("unable to resolve fully qualified type name: .%s", typeName)
}

// camelCase converts a snake_case identifier the way protoc names map entries.
func camelCase(name string) string {
	var b strings.Builder
	upper := true
	for _, c := range name {
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		b.WriteRune(c)
	}
	return b.String()
}

// jsonName computes the default JSON name of a field: lowerCamelCase.
func jsonName(name string) string {
	var b strings.Builder
	upper := false
	for _, c := range name {
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		b.WriteRune(c)
	}
	return b.String()
}
