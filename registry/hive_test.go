package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBytesRejectsBadSignature(t *testing.T) {
	_, err := LoadBytes(make([]byte, headerSize))
	require.Error(t, err)

	var regErr *Error
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, ErrKindMalformed, regErr.Kind)
}

func TestLoadBytesRejectsShortBuffer(t *testing.T) {
	_, err := LoadBytes([]byte("regf"))
	require.Error(t, err)
}

func TestFindWalksNestedPath(t *testing.T) {
	h := buildSystemHive(t)
	key, err := h.Find(h.Root(), `ControlSet001\Services\DriverA`)
	require.NoError(t, err)

	info, err := h.StatKey(key)
	require.NoError(t, err)
	assert.Equal(t, "DriverA", info.Name)
	assert.EqualValues(t, 4, info.ValueCount)
}

func TestFindIsCaseInsensitive(t *testing.T) {
	h := buildSystemHive(t)
	_, err := h.Find(h.Root(), `controlset001\SERVICES\driverb`)
	require.NoError(t, err)
}

func TestFindMissingSegmentReturnsNotFound(t *testing.T) {
	h := buildSystemHive(t)
	_, err := h.Find(h.Root(), `ControlSet001\Services\NoSuchDriver`)
	require.Error(t, err)

	var regErr *Error
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, ErrKindNotFound, regErr.Kind)
}

func TestValueStringsDecodesMultiSZ(t *testing.T) {
	h := buildSystemHive(t)
	key, err := h.Find(h.Root(), `ControlSet001\Control\ServiceGroupOrder`)
	require.NoError(t, err)

	v, err := h.GetValue(key, "List")
	require.NoError(t, err)

	strs, err := h.ValueStrings(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"Boot File System", "Base"}, strs)
}

func TestValueBinaryDecodesGroupOrderList(t *testing.T) {
	h := buildSystemHive(t)
	key, err := h.Find(h.Root(), `ControlSet001\Control\GroupOrderList`)
	require.NoError(t, err)

	v, err := h.GetValue(key, "Base")
	require.NoError(t, err)

	data, err := h.ValueBinary(v)
	require.NoError(t, err)
	require.Len(t, data, 12)
	assert.EqualValues(t, 2, le32(data))
}

func TestValueDWORDRejectsWrongType(t *testing.T) {
	h := buildSystemHive(t)
	key, err := h.Find(h.Root(), `ControlSet001\Control\ServiceGroupOrder`)
	require.NoError(t, err)
	v, err := h.GetValue(key, "List")
	require.NoError(t, err)

	_, err = h.ValueDWORD(v)
	require.Error(t, err)
}
