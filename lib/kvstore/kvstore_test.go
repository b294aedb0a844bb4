package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func setup(t testing.TB) *Store {
	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestGobRoundTrip(t *testing.T) {
	store := setup(t)

	type record struct {
		Id     string
		Active bool
	}

	err := store.SetGob("k", record{Id: "123", Active: true})
	require.NoError(t, err)

	var out record
	err = store.GetGob("k", &out)
	require.NoError(t, err)
	require.Equal(t, record{Id: "123", Active: true}, out)
}

func TestJSONRoundTrip(t *testing.T) {
	store := setup(t)

	in := map[string]int64{"55": 1700000000000}
	err := store.SetJSON("greeted", in)
	require.NoError(t, err)

	out := map[string]int64{}
	err = store.GetJSON("greeted", &out)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestMissingKey(t *testing.T) {
	store := setup(t)

	var out string
	require.ErrorIs(t, store.GetGob("nope", &out), ErrNotFound)
	require.True(t, store.GetBool("nope", true))
	require.EqualValues(t, 42, store.GetInt64("nope", 42))
}

func TestDelete(t *testing.T) {
	store := setup(t)

	require.NoError(t, store.SetString("k", "v"))
	require.NoError(t, store.Delete("k"))
	_, err := store.GetString("k")
	require.ErrorIs(t, err, ErrNotFound)
}
