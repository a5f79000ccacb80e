package bridge

import "github.com/google/go-cmp/cmp"

// deepEqualJSON performs the structural-equality check spec §9 requires for
// JSON Schema comparison: deep equality treating map ordering as
// insignificant. cmp.Equal walks maps/slices/scalars recursively, which is
// exactly "deep equality after key-sorting" for map[string]interface{}
// values decoded from JSON.
func deepEqualJSON(a, b interface{}) bool {
	return cmp.Equal(a, b)
}
