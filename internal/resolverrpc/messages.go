package resolverrpc

// These are plain data-transfer structs, not the domain types in
// internal/mergevalue and internal/storage; internal/strategy/external
// translates between the two at the stream boundary.

// BeginPayload binds the three read-only snapshots for one merge.
type BeginPayload struct {
	LeftID     []byte
	RightID    []byte
	AncestorID []byte
}

// EntryWire is one key/object pair inside a PageChangeWire.
type EntryWire struct {
	Key      []byte
	ObjectID []byte
}

// PageChangeWire is one page of a diff result.
type PageChangeWire struct {
	Status    string
	Changes   []EntryWire
	Deletions [][]byte
	NextToken []byte
}

// StatusWire reports a bare status with an optional message, used for
// merge/done acknowledgements.
type StatusWire struct {
	Status       string
	ErrorMessage string
}

// MergedValueWire is the wire form of internal/mergevalue.MergedValue.
type MergedValueWire struct {
	Key         []byte
	Source      string
	Priority    string
	Bytes       []byte
	ReferenceID []byte
}

// ClientMessage flows from the External Resolver Client to the
// resolver process. Kind selects which field is populated; this
// mirrors a proto oneof without requiring generated code.
type ClientMessage struct {
	Kind      string
	RequestID string

	Begin           *BeginPayload
	LeftDiffResult  *PageChangeWire
	RightDiffResult *PageChangeWire
	MergeResult     *StatusWire
	DoneResult      *StatusWire
}

const (
	ClientBegin           = "begin"
	ClientLeftDiffResult  = "left_diff_result"
	ClientRightDiffResult = "right_diff_result"
	ClientMergeResult     = "merge_result"
	ClientDoneResult      = "done_result"
)

// ResolverMessage flows from the resolver process back to the
// external resolver client: one of the four result_provider
// operations.
type ResolverMessage struct {
	Kind      string
	RequestID string

	Token  []byte
	Values []MergedValueWire
}

const (
	ResolverGetLeftDiff  = "get_left_diff"
	ResolverGetRightDiff = "get_right_diff"
	ResolverMerge        = "merge"
	ResolverDone         = "done"
)
