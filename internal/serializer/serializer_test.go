package serializer

import (
	"bytes"
	"encoding/json"
	"log"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type holder struct {
	Address string    `json:"address"`
	Balance *big.Int  `json:"balance"`
	Seen    time.Time `json:"seen"`
	Rank    int       `json:"rank,omitempty"`
	Tags    []string  `json:"tags,omitempty"`
	Ignored string    `json:"-"`
}

type report struct {
	Total   *big.Int          `json:"total"`
	Holders []holder          `json:"holders"`
	ByChain map[string]string `json:"byChain"`
	Count   *int64            `json:"count,omitempty"`
	At      time.Time         `json:"at"`
}

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return n
}

func TestSerialize_RoundTripTyped(t *testing.T) {
	at := time.UnixMilli(1730020500123).UTC()
	count := int64(42)
	in := report{
		Total: bigFromString(t, "123456789012345678901234567890"),
		Holders: []holder{
			{Address: "0xabc", Balance: big.NewInt(1000), Seen: at, Rank: 1, Tags: []string{"treasury"}},
			{Address: "0xdef", Balance: bigFromString(t, "999999999999999999999"), Seen: at.Add(time.Second)},
		},
		ByChain: map[string]string{"Ethereum": "123456789012345"},
		Count:   &count,
		At:      at,
	}

	data, err := Serialize(in)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, Version(data))

	var out report
	require.NoError(t, DeserializeInto(data, &out))

	assert.Equal(t, 0, in.Total.Cmp(out.Total))
	require.Len(t, out.Holders, 2)
	assert.Equal(t, 0, out.Holders[0].Balance.Cmp(big.NewInt(1000)))
	assert.Equal(t, 0, out.Holders[1].Balance.Cmp(in.Holders[1].Balance))
	assert.True(t, out.Holders[0].Seen.Equal(at))
	assert.Equal(t, []string{"treasury"}, out.Holders[0].Tags)
	assert.True(t, out.At.Equal(at))
	require.NotNil(t, out.Count)
	assert.Equal(t, int64(42), *out.Count)
	// 15-digit strings are left alone in tagged payloads.
	assert.Equal(t, "123456789012345", out.ByChain["Ethereum"])
}

func TestSerialize_TagsBigIntsAndDates(t *testing.T) {
	at := time.Date(2024, 10, 27, 9, 15, 0, 0, time.UTC)
	data, err := Serialize(map[string]any{
		"supply": big.NewInt(5),
		"at":     at,
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, map[string]any{"$bigint": "5"}, raw["supply"])
	assert.Equal(t, map[string]any{"$date": "2024-10-27T09:15:00.000Z"}, raw["at"])
	assert.Equal(t, SchemaVersion, raw["__version"])
}

func TestDeserialize_DynamicTree(t *testing.T) {
	nested := map[string]any{
		"list": []any{big.NewInt(-7), "plain", map[string]any{"deep": bigFromString(t, "100000000000000000000")}},
	}
	data, err := Serialize(nested)
	require.NoError(t, err)

	tree, err := Deserialize(data)
	require.NoError(t, err)

	obj, ok := tree.(map[string]any)
	require.True(t, ok)
	_, hasVersion := obj["__version"]
	assert.False(t, hasVersion)

	list := obj["list"].([]any)
	assert.Equal(t, 0, list[0].(*big.Int).Cmp(big.NewInt(-7)))
	assert.Equal(t, "plain", list[1])
	deep := list[2].(map[string]any)["deep"].(*big.Int)
	assert.Equal(t, "100000000000000000000", deep.String())
}

func TestSerialize_NonObjectRoot(t *testing.T) {
	data, err := Serialize([]*big.Int{big.NewInt(1), big.NewInt(2)})
	require.NoError(t, err)

	tree, err := Deserialize(data)
	require.NoError(t, err)
	list, ok := tree.([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	assert.Equal(t, "2", list[1].(*big.Int).String())

	var out []*big.Int
	require.NoError(t, DeserializeInto(data, &out))
	assert.Equal(t, "1", out[0].String())
}

func TestDeserialize_LegacyHeuristics(t *testing.T) {
	var buf bytes.Buffer
	codec := New(log.New(&buf, "", 0))

	legacy := []byte(`{
		"__version": "v1.0.0",
		"totalSupply": "1234567890123456789",
		"short": "12345678901234",
		"price": "12.5",
		"updatedAt": "2024-10-27T09:15:00.123Z",
		"notDate": "2024-10-27 09:15:00"
	}`)

	tree, err := codec.Deserialize(legacy)
	require.NoError(t, err)
	obj := tree.(map[string]any)

	total, ok := obj["totalSupply"].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, "1234567890123456789", total.String())
	assert.Equal(t, "12345678901234", obj["short"])
	assert.Equal(t, "12.5", obj["price"])
	updated, ok := obj["updatedAt"].(time.Time)
	require.True(t, ok)
	assert.Equal(t, int64(1730020500123), updated.UnixMilli())
	assert.Equal(t, "2024-10-27 09:15:00", obj["notDate"])

	assert.True(t, strings.Contains(buf.String(), "schema version mismatch"))
}

func TestDeserialize_MissingVersionIsLogged(t *testing.T) {
	var buf bytes.Buffer
	codec := New(log.New(&buf, "", 0))

	tree, err := codec.Deserialize([]byte(`{"a": 1}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("1"), tree.(map[string]any)["a"])
	assert.Contains(t, buf.String(), "no schema version")
}

func TestDeserialize_MalformedTag(t *testing.T) {
	_, err := Deserialize([]byte(`{"__version":"v2.0.0","x":{"$bigint":"12a"}}`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Deserialize([]byte(`not json`))
	require.Error(t, err)
}

func TestSerialize_UnsupportedType(t *testing.T) {
	_, err := Serialize(map[string]any{"fn": func() {}})
	require.Error(t, err)
}

func TestSerialize_NilValues(t *testing.T) {
	data, err := Serialize(report{})
	require.NoError(t, err)

	var out report
	require.NoError(t, DeserializeInto(data, &out))
	assert.Nil(t, out.Total)
	assert.Nil(t, out.Count)
	assert.True(t, out.At.IsZero())
}
