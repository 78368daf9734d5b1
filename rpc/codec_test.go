package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)

	type msg struct {
		Text string `json:"text"`
	}
	data, err := c.Marshal(&msg{Text: "你好"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"你好"}`, string(data))

	var back msg
	require.NoError(t, c.Unmarshal(data, &back))
	assert.Equal(t, "你好", back.Text)
}

func TestDialIsLazy(t *testing.T) {
	conn, err := Dial("passthrough:///nowhere:1")
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
}
