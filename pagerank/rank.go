package pagerank

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/rankstep/rankstep"
	"golang.org/x/xerrors"
)

// RankMapper reads entries of the rank vector, "page\trank".
type RankMapper struct{}

// Map implements rankstep.Mapper.
func (RankMapper) Map(_, value string, emitter rankstep.Emitter) error {
	rec, ok, err := ParseRank(value)
	if err != nil || !ok {
		return err
	}
	return emitRecord(emitter, rec)
}

// ParseRank turns a rank entry into a rank record keyed by its page. ok is
// false for a blank line. A rank that is not a finite number is an error:
// skipping it would zero the page's links further down.
func ParseRank(line string) (rec KeyedRecord, ok bool, err error) {
	line = strings.TrimRightFunc(line, unicode.IsSpace)
	if line == "" {
		return KeyedRecord{}, false, nil
	}

	fields := strings.Split(line, "\t")
	if len(fields) != 2 {
		return KeyedRecord{}, false, xerrors.Errorf("rank entry %q has %d fields: %w", line, len(fields), ErrMalformedInput)
	}

	page := strings.TrimSpace(fields[0])
	if page == "" {
		return KeyedRecord{}, false, xerrors.Errorf("rank entry %q has no page: %w", line, ErrMalformedInput)
	}

	rank, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return KeyedRecord{}, false, xerrors.Errorf("rank entry %q: %v: %w", line, err, ErrMalformedInput)
	}
	if math.IsNaN(rank) || math.IsInf(rank, 0) {
		return KeyedRecord{}, false, xerrors.Errorf("rank entry %q is not finite: %w", line, ErrMalformedInput)
	}

	return KeyedRecord{Key: page, Payload: RankPayload{Rank: rank}}, true, nil
}
