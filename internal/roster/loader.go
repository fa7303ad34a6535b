package roster

import (
	"fmt"
	"log/slog"

	"github.com/palikkayhteiso/emmet/internal/sheet"
)

// LoadOptions selects how the roster is extracted from the workbook.
type LoadOptions struct {
	// Mapping selects the explicit-mapping extractor; nil selects heuristic
	// auto-detection.
	Mapping *ColumnMapping
	Log     *slog.Logger
}

// Load reads the workbook at path and extracts the roster in row order.
// A returned error means no roster could be produced (unreadable source or
// no detectable email column); individual bad rows are skipped with a
// diagnostic inside the extractor instead.
func Load(path string, opts LoadOptions) ([]User, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	ws, err := sheet.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read roster workbook: %w", err)
	}

	var ex Extractor
	if opts.Mapping != nil {
		ex = &Mapped{Mapping: *opts.Mapping, Log: log}
	} else {
		ex = &Heuristic{Log: log}
	}

	users, err := ex.Extract(ws)
	if err != nil {
		return nil, fmt.Errorf("extract roster from %s: %w", path, err)
	}
	return users, nil
}
