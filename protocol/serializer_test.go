package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializerByName(t *testing.T) {
	for _, name := range []string{"", "json"} {
		s, err := SerializerByName(name)
		require.NoError(t, err)
		assert.IsType(t, &DefaultJSONSerializer{}, s)
	}

	s, err := SerializerByName("cbor")
	require.NoError(t, err)
	assert.IsType(t, &CBORSerializer{}, s)

	_, err = SerializerByName("xml")
	assert.Error(t, err)
}

func TestCBORSerializer(t *testing.T) {
	s, err := NewCBORSerializer()
	require.NoError(t, err)

	cmd := &AddItemCommand{TableNumber: 5, ItemName: "Cola", Quantity: 2}

	t.Run("deterministic", func(t *testing.T) {
		a, err := s.Marshal(cmd)
		require.NoError(t, err)
		b, err := s.Marshal(&AddItemCommand{TableNumber: 5, ItemName: "Cola", Quantity: 2})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("uses json field names", func(t *testing.T) {
		data, err := s.Marshal(cmd)
		require.NoError(t, err)

		var fields map[string]any
		require.NoError(t, s.Unmarshal(data, &fields))
		assert.Contains(t, fields, "table")
		assert.Contains(t, fields, "item")
		assert.Contains(t, fields, "quantity")
	})

	t.Run("garbage", func(t *testing.T) {
		var out AddItemCommand
		assert.Error(t, s.Unmarshal([]byte{0xff, 0x00}, &out))
	})
}

func TestNewCommand(t *testing.T) {
	s := &DefaultJSONSerializer{}

	cmd, err := NewCommand(s, 7, CmdCompleteTable, &CompleteTableCommand{TableNumber: 4})
	require.NoError(t, err)

	assert.Equal(t, Version, cmd.Version)
	assert.Equal(t, uint64(7), cmd.SeqID)
	assert.Equal(t, CmdCompleteTable, cmd.Type)
	assert.JSONEq(t, `{"table":4}`, string(cmd.Payload))

	_, err = NewCommand(s, 8, CmdAddItem, func() {})
	assert.Error(t, err)
}

func TestCommandTypeString(t *testing.T) {
	assert.Equal(t, "add_item", CmdAddItem.String())
	assert.Equal(t, "remove_item", CmdRemoveItem.String())
	assert.Equal(t, "complete_table", CmdCompleteTable.String())
	assert.Equal(t, "unknown", CommandType(200).String())
}
