package rankstep

import (
	"bufio"

	humanize "github.com/dustin/go-humanize"
	"github.com/rankstep/rankstep/internal/pkg/rsfs"
	log "github.com/sirupsen/logrus"
)

// inputSplit contains the information about a contiguous chunk of an input file.
// startOffset and endOffset are inclusive. For example, if the startOffset was 10
// and the endOffset was 14, then the inputSplit would describe a 5 byte chunk
// of the file.
type inputSplit struct {
	Filename    string // The file that the input split operates on
	StartOffset int64  // The starting byte index of the split in the file
	EndOffset   int64  // The ending byte index (inclusive) of the split in the file
	Source      int    // Index of the job Source whose Mapper reads the split
}

// Size returns the number of bytes that the inputSplit spans
func (i inputSplit) Size() int64 {
	return i.EndOffset - i.StartOffset + 1
}

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// splitInputFile calculates the inputSplits for an input file
func splitInputFile(file rsfs.FileInfo, maxSplitSize int64) []inputSplit {
	splits := make([]inputSplit, 0)

	for startOffset := int64(0); startOffset < file.Size; startOffset += maxSplitSize {
		endOffset := min(startOffset+maxSplitSize-1, file.Size-1)
		newSplit := inputSplit{
			Filename:    file.Name,
			StartOffset: startOffset,
			EndOffset:   endOffset,
		}
		splits = append(splits, newSplit)
	}

	return splits
}

// packInputSplits groups splits into map bins, next-fit, in input order.
// A bin holds at most maxBinSize bytes unless a single split is larger.
func packInputSplits(splits []inputSplit, maxBinSize int64) [][]inputSplit {
	bins := make([][]inputSplit, 0)
	var binSize, totalSize int64
	for _, split := range splits {
		size := split.Size()
		if len(bins) == 0 || binSize+size > maxBinSize {
			bins = append(bins, nil)
			binSize = 0
		}
		last := len(bins) - 1
		bins[last] = append(bins[last], split)
		binSize += size
		totalSize += size
	}

	if len(bins) > 0 {
		log.Debugf("Packed %d splits into %d map bins averaging %s",
			len(splits), len(bins), humanize.Bytes(uint64(totalSize/int64(len(bins)))))
	}
	return bins
}

// countingSplitFunc wraps a bufio.SplitFunc and keeps track of the number of bytes advanced.
// Upon each scan, the value of *bytesRead will be incremented by the number of bytes
// that the SplitFunc advances.
func countingSplitFunc(split bufio.SplitFunc, bytesRead *int64) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		adv, tok, err := split(data, atEOF)
		(*bytesRead) += int64(adv)
		return adv, tok, err
	}
}
