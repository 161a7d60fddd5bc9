package protocol_test

import (
	"encoding/json"
	"testing"

	"croft/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageTypes(t *testing.T) {
	t.Parallel()

	types := []protocol.MessageType{
		protocol.MsgStart,
		protocol.MsgStop,
		protocol.MsgConfigSync,
		protocol.MsgAPICall,
		protocol.MsgStatusSync,
		protocol.MsgLog,
		protocol.MsgError,
		protocol.MsgAccountKicked,
		protocol.MsgAPIResponse,
	}
	expected := []string{
		"start", "stop", "config_sync", "api_call",
		"status_sync", "log", "error", "account_kicked", "api_response",
	}
	for i, mt := range types {
		assert.Equal(t, expected[i], string(mt))
	}
}

func TestEncode_SingleLine(t *testing.T) {
	t.Parallel()

	data, err := protocol.Encode(protocol.Message{
		Type:   protocol.MsgAccountKicked,
		Kicked: &protocol.KickedPayload{Reason: "login elsewhere\nnewline"},
	})
	require.NoError(t, err)
	require.Equal(t, byte('\n'), data[len(data)-1])
	assert.NotContains(t, string(data[:len(data)-1]), "\n", "payload newlines must be escaped")

	var got protocol.Message
	require.NoError(t, json.Unmarshal(data, &got))
	require.NotNil(t, got.Kicked)
	assert.Equal(t, "login elsewhere\nnewline", got.Kicked.Reason)
	assert.Nil(t, got.APICall)
}

func TestNewAPICall(t *testing.T) {
	t.Parallel()

	msg, err := protocol.NewAPICall(7, protocol.MethodDoFriendOp, protocol.FriendOpArgs{GID: 42, Op: "steal"})
	require.NoError(t, err)
	require.NotNil(t, msg.APICall)
	assert.Equal(t, protocol.MsgAPICall, msg.Type)
	assert.Equal(t, uint64(7), msg.APICall.ID)

	var args protocol.FriendOpArgs
	require.NoError(t, json.Unmarshal(msg.APICall.Args, &args))
	assert.Equal(t, protocol.FriendOpArgs{GID: 42, Op: "steal"}, args)

	noArgs, err := protocol.NewAPICall(8, protocol.MethodGetLands, nil)
	require.NoError(t, err)
	assert.Empty(t, noArgs.APICall.Args)
}

func TestMethodValid(t *testing.T) {
	t.Parallel()

	assert.True(t, protocol.MethodGetLands.Valid())
	assert.True(t, protocol.MethodReconnect.Valid())
	assert.False(t, protocol.Method("setAutomation").Valid())
	assert.False(t, protocol.Method("").Valid())
}
