package ipc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxphone/internal/session"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vox.sock")

	got := make(chan ControlMessage, 1)
	srv, err := Listen(path, func(_ context.Context, msg ControlMessage) ControlReply {
		got <- msg
		if msg.Cmd != CmdSay {
			return ControlReply{Error: "unknown command " + msg.Cmd}
		}
		return ControlReply{OK: true, Snapshot: &session.Snapshot{Status: session.Speaking, Transcript: msg.Text}}
	})
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := SendCommand(ctx, path, ControlMessage{Cmd: CmdSay, Text: "battery?"})
	require.NoError(t, err)
	assert.Equal(t, ControlMessage{Cmd: CmdSay, Text: "battery?"}, <-got)
	require.NotNil(t, reply.Snapshot)
	assert.Equal(t, session.Speaking, reply.Snapshot.Status)
	assert.Equal(t, "battery?", reply.Snapshot.Transcript)

	_, err = SendCommand(ctx, path, ControlMessage{Cmd: "dance"})
	assert.EqualError(t, err, "unknown command dance")
}

func TestSendWithoutDaemon(t *testing.T) {
	_, err := SendCommand(context.Background(), filepath.Join(t.TempDir(), "missing.sock"), ControlMessage{Cmd: CmdStatus})
	assert.Error(t, err)
}

func TestCloseRemovesSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vox.sock")
	srv, err := Listen(path, func(context.Context, ControlMessage) ControlReply { return ControlReply{OK: true} })
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	assert.NoFileExists(t, path)
}
