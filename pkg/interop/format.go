package interop

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// format describes where the cycle lives in one file version. A negative
// cycleOffset means the records carry no cycle.
type format struct {
	cycleOffset int
	binning     bool
}

var formats = map[Kind]map[byte]format{
	KindExtraction: {
		2: {cycleOffset: 4},
		3: {cycleOffset: 6},
	},
	KindTile: {
		2: {cycleOffset: -1},
		3: {cycleOffset: -1},
	},
	KindQuality: {
		4: {cycleOffset: 4},
		5: {cycleOffset: 4, binning: true},
		6: {cycleOffset: 4, binning: true},
		7: {cycleOffset: 6, binning: true},
	},
}

var errUnsupportedVersion = errors.New("unsupported file version")

// maxCycle scans a metric stream and returns the highest cycle found. A
// stream that ends inside the header or inside a record is still being
// written; whatever was complete is returned without error.
func maxCycle(kind Kind, r io.Reader) (int, error) {
	br := bufio.NewReader(r)

	var hdr [2]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil
		}

		return 0, fmt.Errorf("reading header: %w", err)
	}

	version, recordSize := hdr[0], int(hdr[1])

	f, ok := formats[kind][version]
	if !ok {
		return 0, fmt.Errorf("%w: %d", errUnsupportedVersion, version)
	}

	if recordSize == 0 || (f.cycleOffset >= 0 && recordSize < f.cycleOffset+2) {
		return 0, fmt.Errorf("invalid record size %d for version %d", recordSize, version)
	}

	if f.binning {
		complete, err := skipBinning(br)
		if err != nil {
			return 0, err
		}

		if !complete {
			return 0, nil
		}
	}

	if f.cycleOffset < 0 {
		return 0, nil
	}

	var (
		record = make([]byte, recordSize)
		best   int
	)

	for {
		if _, err := io.ReadFull(br, record); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return best, nil
			}

			return best, fmt.Errorf("reading record: %w", err)
		}

		cycle := int(binary.LittleEndian.Uint16(record[f.cycleOffset:]))
		if cycle > best {
			best = cycle
		}
	}
}

// skipBinning consumes the quality-score binning block that follows the
// header of newer quality files. It reports false when the block is not
// fully written yet.
func skipBinning(br *bufio.Reader) (bool, error) {
	flag, err := br.ReadByte()
	if err != nil {
		return false, truncated(err)
	}

	if flag == 0 {
		return true, nil
	}

	count, err := br.ReadByte()
	if err != nil {
		return false, truncated(err)
	}

	// Lower bounds, upper bounds and remapped scores, one byte each per bin.
	if _, err := br.Discard(3 * int(count)); err != nil {
		return false, truncated(err)
	}

	return true, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}

	return fmt.Errorf("reading binning header: %w", err)
}
