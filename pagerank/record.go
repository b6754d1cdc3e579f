package pagerank

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rankstep/rankstep"
	"golang.org/x/xerrors"
)

// PageID identifies a page. It is both a row of the transition matrix and
// the key joining links with ranks.
type PageID = string

// Payload is the value of a KeyedRecord: either an EdgePayload or a
// RankPayload.
type Payload interface {
	payloadTag() string
}

// EdgePayload is one link of a source page with its transition probability.
type EdgePayload struct {
	Destination PageID
	Weight      float64
}

// RankPayload is the current rank of a page.
type RankPayload struct {
	Rank float64
}

func (EdgePayload) payloadTag() string { return edgeTag }
func (RankPayload) payloadTag() string { return rankTag }

// KeyedRecord is the unit exchanged through the shuffle. Edges are keyed by
// their source page and ranks by their page.
type KeyedRecord struct {
	Key     PageID
	Payload Payload
}

// PartialContribution is the rank mass a destination receives from one link.
type PartialContribution struct {
	Destination PageID
	Amount      float64
}

const (
	edgeTag = "edge"
	rankTag = "rank"
)

// wirePayload is the shuffle encoding of a Payload. Pointers tell a missing
// number apart from zero.
type wirePayload struct {
	Tag         string   `json:"t"`
	Destination string   `json:"d,omitempty"`
	Weight      *float64 `json:"w,omitempty"`
	Rank        *float64 `json:"r,omitempty"`
}

// EncodePayload encodes p for the shuffle.
func EncodePayload(p Payload) (string, error) {
	var wire wirePayload
	switch v := p.(type) {
	case EdgePayload:
		wire = wirePayload{Tag: edgeTag, Destination: v.Destination, Weight: &v.Weight}
	case RankPayload:
		wire = wirePayload{Tag: rankTag, Rank: &v.Rank}
	default:
		return "", xerrors.Errorf("encode payload of type %T: %w", p, ErrMalformedInput)
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return "", xerrors.Errorf("encode %s payload: %v: %w", wire.Tag, err, ErrMalformedInput)
	}
	return string(data), nil
}

// DecodePayload decodes a payload produced by EncodePayload. The payload
// kind is taken from its tag alone.
func DecodePayload(data string) (Payload, error) {
	var wire wirePayload
	if err := json.Unmarshal([]byte(data), &wire); err != nil {
		return nil, xerrors.Errorf("decode payload %q: %v: %w", data, err, ErrMalformedInput)
	}

	switch wire.Tag {
	case edgeTag:
		if wire.Destination == "" || wire.Weight == nil {
			return nil, xerrors.Errorf("incomplete edge payload %q: %w", data, ErrMalformedInput)
		}
		return EdgePayload{Destination: wire.Destination, Weight: *wire.Weight}, nil
	case rankTag:
		if wire.Rank == nil {
			return nil, xerrors.Errorf("incomplete rank payload %q: %w", data, ErrMalformedInput)
		}
		return RankPayload{Rank: *wire.Rank}, nil
	default:
		return nil, xerrors.Errorf("unknown payload tag %q: %w", wire.Tag, ErrMalformedInput)
	}
}

// emitRecord hands rec to the shuffle
func emitRecord(emitter rankstep.Emitter, rec KeyedRecord) error {
	payload, err := EncodePayload(rec.Payload)
	if err != nil {
		return err
	}
	return emitter.Emit(rec.Key, payload)
}

// FormatAmount renders an amount with the fewest digits that parse back to
// the same float64. Tiny amounts switch to exponent notation instead of
// rounding to zero.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'g', -1, 64)
}

// ParseContribution parses an output line, "destination\tamount".
func ParseContribution(line string) (PartialContribution, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) != 2 || fields[0] == "" {
		return PartialContribution{}, xerrors.Errorf("contribution %q: %w", line, ErrMalformedInput)
	}

	amount, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return PartialContribution{}, xerrors.Errorf("contribution %q: %v: %w", line, err, ErrMalformedInput)
	}
	return PartialContribution{Destination: fields[0], Amount: amount}, nil
}
