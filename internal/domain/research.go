package domain

// RecordStatusDiscovered is the tracking record status written after a
// research action has produced results.
const RecordStatusDiscovered = "discovered"

// ResultKind selects which result set of a tracking record to read.
type ResultKind string

const (
	// ResultKindPrimary is the filtered keyword list.
	ResultKindPrimary ResultKind = "primary"
	// ResultKindRaw is the unfiltered keyword list.
	ResultKindRaw ResultKind = "raw"
)

// IsValid reports whether k names a known result set.
func (k ResultKind) IsValid() bool {
	return k == ResultKindPrimary || k == ResultKindRaw
}

// ResearchItem is one keyword suggestion returned by the research pipeline.
type ResearchItem struct {
	Keyword      string
	SearchVolume int64
	Competition  float64
	CPC          float64
	Difficulty   int
	Intent       string
}

// ReadResult is the outcome of one read of a tracking record's results.
// Found is false when the record or its result set does not exist yet.
type ReadResult struct {
	Found bool
	Items []ResearchItem
}

// HasItems reports whether the read returned at least one item.
func (r ReadResult) HasItems() bool {
	return r.Found && len(r.Items) > 0
}
