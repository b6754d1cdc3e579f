package pagerank

import (
	"fmt"

	"github.com/rankstep/rankstep"
	"golang.org/x/xerrors"
)

// DefaultBeta is the teleport probability used when none is configured.
const DefaultBeta = 0.2

// ValidateBeta checks that beta lies strictly between 0 and 1.
func ValidateBeta(beta float64) error {
	// Written so that NaN fails too
	if !(beta > 0 && beta < 1) {
		return xerrors.Errorf("beta %v outside (0, 1): %w", beta, ErrInvalidConfig)
	}
	return nil
}

// Group is every payload shuffled to one page: its outgoing edges and, if
// present, its rank.
type Group struct {
	Key     PageID
	Edges   []EdgePayload
	Rank    float64
	HasRank bool
}

// Collect partitions the payloads of key into edges and rank.
func Collect(key PageID, payloads []Payload) (Group, error) {
	g := Group{Key: key}
	for _, p := range payloads {
		switch v := p.(type) {
		case EdgePayload:
			g.Edges = append(g.Edges, v)
		case RankPayload:
			if g.HasRank {
				return Group{}, xerrors.Errorf("page %q has ranks %v and %v: %w", key, g.Rank, v.Rank, ErrDuplicateJoinOperand)
			}
			g.Rank = v.Rank
			g.HasRank = true
		default:
			return Group{}, xerrors.Errorf("page %q: payload of type %T: %w", key, p, ErrMalformedInput)
		}
	}
	return g, nil
}

// Multiplier joins the links of a page with its rank and distributes the
// damped rank along every link.
type Multiplier struct {
	beta float64
}

// NewMultiplier creates a Multiplier for teleport probability beta.
func NewMultiplier(beta float64) (*Multiplier, error) {
	if err := ValidateBeta(beta); err != nil {
		return nil, err
	}
	return &Multiplier{beta: beta}, nil
}

// Beta returns the teleport probability of m.
func (m *Multiplier) Beta() float64 {
	return m.beta
}

// Multiply returns one contribution per edge of g. A page without links
// contributes nothing; links without a rank cannot be joined.
func (m *Multiplier) Multiply(g Group) ([]PartialContribution, error) {
	if len(g.Edges) == 0 {
		return nil, nil
	}
	if !g.HasRank {
		return nil, xerrors.Errorf("page %q has %d links but no rank: %w", g.Key, len(g.Edges), ErrMissingJoinOperand)
	}

	contributions := make([]PartialContribution, 0, len(g.Edges))
	for _, e := range g.Edges {
		contributions = append(contributions, PartialContribution{
			Destination: e.Destination,
			Amount:      e.Weight * g.Rank * (1 - m.beta),
		})
	}
	return contributions, nil
}

// Reduce implements rankstep.Reducer.
func (m *Multiplier) Reduce(key string, values rankstep.ValueIterator, emitter rankstep.Emitter) error {
	payloads := make([]Payload, 0)
	for value := range values.Iter() {
		p, err := DecodePayload(value)
		if err != nil {
			return err
		}
		payloads = append(payloads, p)
	}

	g, err := Collect(key, payloads)
	if err != nil {
		return err
	}
	contributions, err := m.Multiply(g)
	if err != nil {
		return err
	}

	for _, c := range contributions {
		if err := emitter.Emit(c.Destination, FormatAmount(c.Amount)); err != nil {
			return err
		}
	}
	return nil
}

func (c PartialContribution) String() string {
	return fmt.Sprintf("%s\t%s", c.Destination, FormatAmount(c.Amount))
}
