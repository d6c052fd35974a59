package domain

// StagedObject references a fully uploaded staging file in object storage.
// Path is the storage-relative object key; URI is the storage-native reference.
type StagedObject struct {
	Key      PartitionKey `json:"key"`
	Path     string       `json:"path"`
	URI      string       `json:"uri"`
	RowCount int          `json:"row_count"`
}

// LoadResult reports a completed bulk copy.
type LoadResult struct {
	RowsLoaded int    `json:"rows_loaded"`
	SourceURI  string `json:"source_uri"`
}

// FileFormat describes the staged file layout for the warehouse's bulk copy.
type FileFormat struct {
	Type       string // e.g. "CSV"
	SkipHeader int    // leading rows to ignore
	Enclosure  string // quote character that may wrap a field; empty for none
}

// CopyCommand is one bulk-copy request: append every row read from Source
// into Table, mapping file columns positionally onto Columns.
type CopyCommand struct {
	Source  string
	Table   string
	Columns []string
	Format  FileFormat
}
