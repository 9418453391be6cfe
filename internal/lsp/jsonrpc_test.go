package lsp

import (
	"bytes"
	"encoding/json"
	"io"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConn_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewConn(nil, &buf)
	require.NoError(t, w.Notify("window/showMessage", ShowMessageParams{Type: MessageInfo, Message: "héllo"}))
	require.NoError(t, w.Reply(json.RawMessage("7"), nil))
	require.NoError(t, w.ReplyError(nil, CodeMethodNotFound, "nope"))

	assert.True(t, strings.HasPrefix(buf.String(), "Content-Length: "))

	r := NewConn(&buf, io.Discard)
	msg, err := r.Read()
	require.NoError(t, err)
	assert.True(t, msg.IsNotification())
	assert.Equal(t, "2.0", msg.JSONRPC)
	var params ShowMessageParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, "héllo", params.Message)

	msg, err = r.Read()
	require.NoError(t, err)
	assert.True(t, msg.IsResponse())
	assert.Equal(t, "7", string(msg.ID))
	assert.Equal(t, "null", string(msg.Result))

	msg, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, "null", string(msg.ID))
	require.NotNil(t, msg.Error)
	assert.Equal(t, CodeMethodNotFound, msg.Error.Code)

	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func frame(body string) string {
	return "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
}


func TestConn_Read(t *testing.T) {
	t.Run("extra headers and lowercase name", func(t *testing.T) {
		body := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`
		in := "content-length: " + strconv.Itoa(len(body)) + "\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n" + body
		msg, err := NewConn(strings.NewReader(in), io.Discard).Read()
		require.NoError(t, err)
		assert.True(t, msg.IsRequest())
		assert.Equal(t, "initialize", msg.Method)
	})

	t.Run("missing length", func(t *testing.T) {
		_, err := NewConn(strings.NewReader("Content-Type: x\r\n\r\n{}"), io.Discard).Read()
		assert.Error(t, err)
	})

	t.Run("bad length", func(t *testing.T) {
		_, err := NewConn(strings.NewReader("Content-Length: ten\r\n\r\n{}"), io.Discard).Read()
		assert.Error(t, err)
	})

	t.Run("truncated body", func(t *testing.T) {
		_, err := NewConn(strings.NewReader("Content-Length: 50\r\n\r\n{}"), io.Discard).Read()
		assert.Error(t, err)
		assert.NotErrorIs(t, err, io.EOF)
	})

	t.Run("parse error keeps framing", func(t *testing.T) {
		in := frame("{not json") + frame(`{"jsonrpc":"2.0","method":"exit"}`)
		c := NewConn(strings.NewReader(in), io.Discard)
		_, err := c.Read()
		var rpcErr *ResponseError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, CodeParseError, rpcErr.Code)

		msg, err := c.Read()
		require.NoError(t, err)
		assert.Equal(t, "exit", msg.Method)
	})
}

func TestURIConversion(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}
	path, err := URIToPath("file:///home/dev/my%20project/src/lib.rs")
	require.NoError(t, err)
	assert.Equal(t, "/home/dev/my project/src/lib.rs", path)

	assert.Equal(t, "file:///home/dev/my%20project/src/lib.rs", PathToURI("/home/dev/my project/src/lib.rs"))

	_, err = URIToPath("untitled:Untitled-1")
	assert.Error(t, err)
}
