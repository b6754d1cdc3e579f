package pagerank

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/rankstep/rankstep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBeta(t *testing.T) {
	for _, beta := range []float64{0.2, 0.85, 1e-9, 0.999999} {
		assert.NoError(t, ValidateBeta(beta), beta)
	}
	for _, beta := range []float64{0, 1, -0.1, 1.5, math.NaN(), math.Inf(1)} {
		assert.True(t, errors.Is(ValidateBeta(beta), ErrInvalidConfig), beta)
	}
}

func TestNewMultiplier(t *testing.T) {
	m, err := NewMultiplier(0.2)
	require.NoError(t, err)
	assert.Equal(t, 0.2, m.Beta())

	m, err = NewMultiplier(1)
	assert.Nil(t, m)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestCollect(t *testing.T) {
	g, err := Collect("A", []Payload{
		EdgePayload{Destination: "B", Weight: 0.5},
		RankPayload{Rank: 0.1},
		EdgePayload{Destination: "C", Weight: 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, "A", g.Key)
	assert.True(t, g.HasRank)
	assert.Equal(t, 0.1, g.Rank)
	assert.Len(t, g.Edges, 2)

	g, err = Collect("A", nil)
	require.NoError(t, err)
	assert.False(t, g.HasRank)
	assert.Empty(t, g.Edges)
}

func TestCollectDuplicateRank(t *testing.T) {
	_, err := Collect("A", []Payload{RankPayload{Rank: 0.1}, RankPayload{Rank: 0.1}})
	assert.True(t, errors.Is(err, ErrDuplicateJoinOperand))
}

func TestMultiply(t *testing.T) {
	m, err := NewMultiplier(0.2)
	require.NoError(t, err)

	contributions, err := m.Multiply(Group{
		Key: "A",
		Edges: []EdgePayload{
			{Destination: "B", Weight: 0.5},
			{Destination: "C", Weight: 0.5},
		},
		Rank:    0.1,
		HasRank: true,
	})
	require.NoError(t, err)
	require.Len(t, contributions, 2)
	assert.Equal(t, "B", contributions[0].Destination)
	assert.Equal(t, "C", contributions[1].Destination)
	weight, rank, beta := 0.5, 0.1, 0.2
	for _, c := range contributions {
		assert.Equal(t, weight*rank*(1-beta), c.Amount)
		assert.InDelta(t, 0.04, c.Amount, 1e-12)
	}
}

func TestMultiplyExactFormula(t *testing.T) {
	weight := 1.0 / 7
	for _, beta := range []float64{0.15, 0.2, 0.5, 0.9} {
		m, err := NewMultiplier(beta)
		require.NoError(t, err)

		for _, rank := range []float64{0, 1e-12, 0.37, 1, 42} {
			contributions, err := m.Multiply(Group{
				Key:     "A",
				Edges:   []EdgePayload{{Destination: "B", Weight: weight}},
				Rank:    rank,
				HasRank: true,
			})
			require.NoError(t, err)
			require.Len(t, contributions, 1)
			assert.Equal(t, weight*rank*(1-beta), contributions[0].Amount)
		}
	}
}

func TestMultiplyRankWithoutEdges(t *testing.T) {
	m, err := NewMultiplier(0.2)
	require.NoError(t, err)

	contributions, err := m.Multiply(Group{Key: "Z", Rank: 0.3, HasRank: true})
	assert.NoError(t, err)
	assert.Empty(t, contributions)
}

func TestMultiplyMissingRank(t *testing.T) {
	m, err := NewMultiplier(0.2)
	require.NoError(t, err)

	_, err = m.Multiply(Group{Key: "A", Edges: []EdgePayload{{Destination: "B", Weight: 1}}})
	assert.True(t, errors.Is(err, ErrMissingJoinOperand))
}

func encodeAll(t *testing.T, payloads ...Payload) []string {
	values := make([]string, 0, len(payloads))
	for _, p := range payloads {
		v, err := EncodePayload(p)
		require.NoError(t, err)
		values = append(values, v)
	}
	return values
}

func TestReduce(t *testing.T) {
	m, err := NewMultiplier(0.2)
	require.NoError(t, err)

	// Group order is arbitrary; the rank arrives between the edges
	values := encodeAll(t,
		EdgePayload{Destination: "C", Weight: 1.0 / 3},
		RankPayload{Rank: 0.3},
		EdgePayload{Destination: "B", Weight: 1.0 / 3},
		EdgePayload{Destination: "D", Weight: 1.0 / 3},
	)

	emitter := &fakeEmitter{}
	require.NoError(t, m.Reduce("A", rankstep.NewValueIterator(values...), emitter))
	require.Len(t, emitter.records, 3)

	keys := emitter.keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"B", "C", "D"}, keys)

	weight, rank, beta := 1.0/3, 0.3, 0.2
	total := 0.0
	for _, record := range emitter.records {
		c, err := ParseContribution(record)
		require.NoError(t, err)
		assert.Equal(t, weight*rank*(1-beta), c.Amount)
		total += c.Amount
	}
	assert.InDelta(t, rank*(1-beta), total, 1e-12)
}

func TestReduceDanglingRank(t *testing.T) {
	m, err := NewMultiplier(0.2)
	require.NoError(t, err)

	emitter := &fakeEmitter{}
	values := encodeAll(t, RankPayload{Rank: 0.3})
	require.NoError(t, m.Reduce("Z", rankstep.NewValueIterator(values...), emitter))
	assert.Empty(t, emitter.records)
}

func TestReduceErrors(t *testing.T) {
	m, err := NewMultiplier(0.2)
	require.NoError(t, err)

	missing := encodeAll(t, EdgePayload{Destination: "B", Weight: 1})
	err = m.Reduce("A", rankstep.NewValueIterator(missing...), &fakeEmitter{})
	assert.True(t, errors.Is(err, ErrMissingJoinOperand))

	duplicate := encodeAll(t, RankPayload{Rank: 0.1}, RankPayload{Rank: 0.2})
	err = m.Reduce("A", rankstep.NewValueIterator(duplicate...), &fakeEmitter{})
	assert.True(t, errors.Is(err, ErrDuplicateJoinOperand))

	err = m.Reduce("A", rankstep.NewValueIterator("B,0.5"), &fakeEmitter{})
	assert.True(t, errors.Is(err, ErrMalformedInput))

	emitErr := errors.New("disk full")
	valid := encodeAll(t, EdgePayload{Destination: "B", Weight: 1}, RankPayload{Rank: 0.1})
	err = m.Reduce("A", rankstep.NewValueIterator(valid...), &fakeEmitter{err: emitErr})
	assert.Equal(t, emitErr, err)
}
