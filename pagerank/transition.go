package pagerank

import (
	"strings"
	"unicode"

	"github.com/rankstep/rankstep"
	"golang.org/x/xerrors"
)

// TransitionMapper reads rows of the transition matrix,
// "source\tdest1,dest2,...,destN", and emits one edge per link.
type TransitionMapper struct{}

// Map implements rankstep.Mapper.
func (TransitionMapper) Map(_, value string, emitter rankstep.Emitter) error {
	records, err := ParseTransition(value)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := emitRecord(emitter, rec); err != nil {
			return err
		}
	}
	return nil
}

// ParseTransition turns a transition row into edge records keyed by the
// source page. Each of the N destination tokens gets weight 1/N; repeated
// destinations are parallel edges. A row without destinations is a
// dangling page and yields no records.
func ParseTransition(line string) ([]KeyedRecord, error) {
	line = strings.TrimRightFunc(line, unicode.IsSpace)
	if line == "" {
		return nil, nil
	}

	fields := strings.Split(line, "\t")
	source := strings.TrimSpace(fields[0])
	if source == "" {
		return nil, xerrors.Errorf("transition row %q has no source page: %w", line, ErrMalformedInput)
	}
	if len(fields) > 2 {
		return nil, xerrors.Errorf("transition row %q has %d fields: %w", line, len(fields), ErrMalformedInput)
	}
	if len(fields) == 1 || strings.TrimSpace(fields[1]) == "" {
		return nil, nil
	}

	tokens := strings.Split(fields[1], ",")
	weight := 1.0 / float64(len(tokens))

	records := make([]KeyedRecord, 0, len(tokens))
	for _, token := range tokens {
		destination := strings.TrimSpace(token)
		if destination == "" {
			return nil, xerrors.Errorf("transition row %q has an empty destination: %w", line, ErrMalformedInput)
		}
		records = append(records, KeyedRecord{
			Key:     source,
			Payload: EdgePayload{Destination: destination, Weight: weight},
		})
	}
	return records, nil
}
