// Package interop reads the progress of a run from the instrument's binary
// InterOp metric files. Only the file header and the cycle field of each
// record are decoded.
package interop

import (
	"path/filepath"

	"github.com/mentat25/Metrix/pkg/run"
)

// Kind names one of the telemetry sources.
type Kind string

// Telemetry sources written by the instrument.
const (
	KindExtraction Kind = "extraction"
	KindTile       Kind = "tile"
	KindQuality    Kind = "quality"
)

// Kinds lists every source in the order they are opened.
var Kinds = []Kind{KindExtraction, KindTile, KindQuality}

var fileNames = map[Kind]string{
	KindExtraction: "ExtractionMetricsOut.bin",
	KindTile:       "TileMetricsOut.bin",
	KindQuality:    "QMetricsOut.bin",
}

// FileName returns the file backing a source kind.
func FileName(k Kind) string {
	return fileNames[k]
}

// Dir returns the InterOp directory of a run. A path that already points
// at an InterOp directory is returned unchanged.
func Dir(runDir string) string {
	clean := filepath.Clean(runDir)
	if filepath.Base(clean) == run.InterOpDir {
		return clean
	}

	return filepath.Join(clean, run.InterOpDir)
}

// Path returns the path of a source file inside a run directory.
func Path(runDir string, k Kind) string {
	return filepath.Join(Dir(runDir), FileName(k))
}
