// Package tasks implements C9 (the durable priority queue) and C10 (the
// worker pool that drains it), per §4.6. Per the Open Question in
// SPEC_FULL.md/§9, task parameters and results are explicit typed Go
// structs keyed by function name, not pickled blobs — the queue stores
// them as the tagged union (function name, JSON-encoded struct) this
// note calls for.
package tasks

// Function names, used both as the dedup key's function_name column and
// as the registry key handlers are looked up by.
const (
	FuncBuildPyramid       = "build_pyramid"
	FuncMoveFolder         = "move_folder"
	FuncPurgeDeletedFolder = "purge_deleted_folder"
	FuncDeleteTempFiles    = "delete_temp_files"
	FuncBurstPDF           = "burst_pdf"
)

// BuildPyramidParams schedules §4.5's progressive-derivative
// pre-computation for one original.
type BuildPyramidParams struct {
	SourceID int64  `json:"source_id"`
	Source   string `json:"source"`
	Format   string `json:"format"`
}

// MoveFolderParams renames a folder (and, transitively, the images
// beneath it) from From to To.
type MoveFolderParams struct {
	FolderID int64  `json:"folder_id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// PurgeDeletedFolderParams physically deletes a folder previously
// marked deleted, once nothing references it any longer.
type PurgeDeletedFolderParams struct {
	FolderID int64 `json:"folder_id"`
}

// DeleteTempFilesParams is the housekeeping task enqueued periodically
// by every web worker (§4.6 "Housekeeping"); params are empty but the
// type exists so it has a home in the function registry like every
// other task.
type DeleteTempFilesParams struct{}

// BurstPDFParams explodes a multi-page PDF into per-page derivatives.
type BurstPDFParams struct {
	SourceID int64  `json:"source_id"`
	Source   string `json:"source"`
	DestDir  string `json:"dest_dir"`
	DPI      int    `json:"dpi"`
}

// Failure is the typed error variant task results carry instead of a
// round-tripped native exception (the other half of the Open Question
// resolution): a short machine string plus a human message.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (f *Failure) Error() string { return f.Kind + ": " + f.Message }
