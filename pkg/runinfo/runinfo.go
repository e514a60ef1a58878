// Package runinfo reads the run metadata the instrument writes at the top
// of every run directory.
package runinfo

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mentat25/Metrix/pkg/run"
)

// Read is one read segment of the run.
type Read struct {
	Number  int
	Cycles  int
	IsIndex bool
}

// Info is the metadata parsed from a run-info file.
type Info struct {
	RunID       string
	Flowcell    string
	Instrument  string
	RunNumber   int
	Date        string
	Reads       []Read
	RunType     run.RunType
	TotalCycles int
	TurnCycle   int
}

// Reader parses the metadata of a run directory.
type Reader interface {
	Parse(runDir string) (*Info, error)
}

// FileReader reads RunInfo.xml from disk.
type FileReader struct{}

// Ensure interface compliance.
var _ Reader = (*FileReader)(nil)

// NewFileReader creates a run-info reader.
func NewFileReader() *FileReader {
	return &FileReader{}
}

// Parse reads and interprets the run-info file of runDir. Every failure is
// returned as a *run.MetadataParseError.
func (r *FileReader) Parse(runDir string) (*Info, error) {
	path := filepath.Join(run.RootDirectory(runDir), run.RunInfoFile)

	f, err := os.Open(path)
	if err != nil {
		return nil, &run.MetadataParseError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	info, err := Decode(f)
	if err != nil {
		return nil, &run.MetadataParseError{Path: path, Err: err}
	}

	return info, nil
}

type xmlRunInfo struct {
	XMLName xml.Name `xml:"RunInfo"`
	Run     struct {
		ID         string    `xml:"Id,attr"`
		Number     int       `xml:"Number,attr"`
		Flowcell   string    `xml:"Flowcell"`
		Instrument string    `xml:"Instrument"`
		Date       string    `xml:"Date"`
		Reads      []xmlRead `xml:"Reads>Read"`
	} `xml:"Run"`
}

type xmlRead struct {
	Number        int    `xml:"Number,attr"`
	NumCycles     int    `xml:"NumCycles,attr"`
	FirstCycle    int    `xml:"FirstCycle,attr"`
	LastCycle     int    `xml:"LastCycle,attr"`
	IsIndexedRead string `xml:"IsIndexedRead,attr"`
}

// Decode parses run-info XML.
func Decode(r io.Reader) (*Info, error) {
	var doc xmlRunInfo
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding xml: %w", err)
	}

	if len(doc.Run.Reads) == 0 {
		return nil, errors.New("run has no reads")
	}

	info := &Info{
		RunID:      doc.Run.ID,
		Flowcell:   doc.Run.Flowcell,
		Instrument: doc.Run.Instrument,
		RunNumber:  doc.Run.Number,
		Date:       doc.Run.Date,
		Reads:      make([]Read, 0, len(doc.Run.Reads)),
	}

	for _, xr := range doc.Run.Reads {
		cycles := xr.NumCycles
		if cycles == 0 && xr.LastCycle >= xr.FirstCycle && xr.FirstCycle > 0 {
			// Older instruments describe a read by its cycle range.
			cycles = xr.LastCycle - xr.FirstCycle + 1
		}

		if cycles <= 0 {
			return nil, fmt.Errorf("read %d has no cycles", xr.Number)
		}

		info.Reads = append(info.Reads, Read{
			Number:  xr.Number,
			Cycles:  cycles,
			IsIndex: strings.EqualFold(xr.IsIndexedRead, "Y"),
		})
	}

	info.classify()

	return info, nil
}

// classify derives the run type, the total number of cycles and, for
// paired-end runs, the cycle at which the flowcell is turned: the last
// cycle before the second non-index read starts.
func (i *Info) classify() {
	var (
		dataReads int
		elapsed   int
	)

	i.RunType = run.RunTypeSingleEnd

	for _, r := range i.Reads {
		if !r.IsIndex {
			dataReads++

			if dataReads == 2 {
				i.RunType = run.RunTypePairedEnd
				i.TurnCycle = elapsed
			}
		}

		elapsed += r.Cycles
	}

	i.TotalCycles = elapsed
}
