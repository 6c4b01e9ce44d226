package bencode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawDictValueFindsNestedKey(t *testing.T) {
	require := require.New(t)

	data := []byte("d8:announce3:foo4:infod4:name1:aee")
	raw, err := rawDictValue(data, "info")
	require.NoError(err)
	require.Equal("d4:name1:ae", string(raw))
}

func TestRawDictValueKeyNotFound(t *testing.T) {
	require := require.New(t)

	data := []byte("d8:announce3:fooe")
	_, err := rawDictValue(data, "info")
	require.Error(err)
}

func TestRawDictValueNotADictionary(t *testing.T) {
	require := require.New(t)

	_, err := rawDictValue([]byte("i5e"), "info")
	require.Error(err)
}

func TestScanValueInteger(t *testing.T) {
	require := require.New(t)

	end, err := scanValue([]byte("i-42eX"), 0)
	require.NoError(err)
	require.Equal(5, end)
}

func TestScanValueListAndDict(t *testing.T) {
	require := require.New(t)

	end, err := scanValue([]byte("l4:spam4:eggse"), 0)
	require.NoError(err)
	require.Equal(14, end)

	end, err = scanValue([]byte("d3:cow3:moo4:spam4:eggse"), 0)
	require.NoError(err)
	require.Equal(24, end)
}

func TestScanValueMalformedString(t *testing.T) {
	require := require.New(t)

	_, err := scanValue([]byte("5:ab"), 0)
	require.Error(err)
}
