package livezip

// Plan is the result of Encoder.Prepare: a per-entry local-header offset
// table plus the total archive size, computed without reading any file
// content.
type Plan struct {
	// Offsets holds, for each entry in list order, the absolute byte
	// offset of that entry's local file header in the output.
	Offsets []uint64

	// CentralDirectoryOffset is the absolute byte offset where the
	// central directory begins.
	CentralDirectoryOffset uint64

	// CentralDirectorySize is the total byte length of the central
	// directory (sum of each entry's central directory header).
	CentralDirectorySize uint64

	// TotalSize is the full archive length in bytes.
	TotalSize uint64
}

// buildPlan walks entries once in list order, assigning a byte offset to
// each entry's local header and accumulating the total archive size. It
// performs no I/O: every size it needs is either a field on FileEntry or
// derived deterministically from Storage.WireLength.
func buildPlan(entries []*FileEntry) (*Plan, error) {
	plan := &Plan{Offsets: make([]uint64, len(entries))}

	var running uint64
	for i, e := range entries {
		if err := e.validate(); err != nil {
			return nil, err
		}
		plan.Offsets[i] = running
		running += uint64(localFileHeaderLen(len(e.Name))) + e.CompressedSize
	}

	plan.CentralDirectoryOffset = running
	for _, e := range entries {
		plan.CentralDirectorySize += uint64(centralDirectoryHeaderLen(len(e.Name)))
	}

	plan.TotalSize = plan.CentralDirectoryOffset + plan.CentralDirectorySize + trailerSize
	return plan, nil
}
