package wire

// WireTypeMatches reports whether a field declared as ft may arrive with wire
// type wt. Groups only accept start-group. Every other type accepts its own
// wire type and, because repeated scalars may be packed, length-delimited too.
func WireTypeMatches(wt WireType, ft FieldType) bool {
	if !ft.IsValid() {
		return false
	}
	if ft == TypeGroup {
		return wt == WireStartGroup
	}
	return wt == WireBytes || ft.ExpectedWireType() == wt
}
