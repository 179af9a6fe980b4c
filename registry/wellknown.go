package registry

import (
	"strings"

	// Linked for their descriptors: imports of google/protobuf/*.proto are
	// served from protoregistry.GlobalFiles instead of the file system.
	_ "google.golang.org/protobuf/types/known/anypb"
	_ "google.golang.org/protobuf/types/known/durationpb"
	_ "google.golang.org/protobuf/types/known/emptypb"
	_ "google.golang.org/protobuf/types/known/fieldmaskpb"
	_ "google.golang.org/protobuf/types/known/structpb"
	_ "google.golang.org/protobuf/types/known/timestamppb"
	_ "google.golang.org/protobuf/types/known/wrapperspb"
)

func isWellKnown(importPath string) bool {
	return strings.HasPrefix(importPath, "google/protobuf/")
}
