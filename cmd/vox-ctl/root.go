package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"voxphone/internal/ipc"
	"voxphone/internal/session"
)

var socketPath string

var rootCmd = &cobra.Command{
	Use:           "vox-ctl",
	Short:         "Control a running vox-daemon",
	Long:          `vox-ctl talks to vox-daemon over its control socket: toggle the microphone, type a prompt, read the conversation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vox-ctl:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", ipc.DefaultSocketPath(), "Daemon control socket")

	rootCmd.AddCommand(
		simpleCmd(ipc.CmdListen, "Toggle the microphone (the first call greets)", printStatus),
		simpleCmd(ipc.CmdStop, "Stop listening and silence speech", printStatus),
		simpleCmd(ipc.CmdClear, "Clear the conversation log", printStatus),
		simpleCmd(ipc.CmdStatus, "Show the session status", printStatus),
		simpleCmd(ipc.CmdHistory, "Show the conversation, newest first", printHistory),
		sayCmd,
	)
}

type printer func(w io.Writer, snap *session.Snapshot)

func simpleCmd(name, short string, show printer) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return send(cmd, ipc.ControlMessage{Cmd: name}, 5*time.Second, show)
		},
	}
}

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Send a typed prompt, as if it had been spoken",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg := ipc.ControlMessage{Cmd: ipc.CmdSay, Text: strings.Join(args, " ")}
		// A prompt waits for the assistant and every action it asks for.
		return send(cmd, msg, 2*time.Minute, printLast)
	},
}

func send(cmd *cobra.Command, msg ipc.ControlMessage, timeout time.Duration, show printer) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	reply, err := ipc.SendCommand(ctx, socketPath, msg)
	if err != nil {
		if reply.Error == "" {
			return fmt.Errorf("vox-daemon not running: %w", err)
		}
		return err
	}

	if reply.Snapshot != nil {
		show(cmd.OutOrStdout(), reply.Snapshot)
	}
	return nil
}

func printStatus(w io.Writer, snap *session.Snapshot) {
	fmt.Fprintln(w, snap.Status)
	if snap.Transcript != "" {
		fmt.Fprintf(w, "heard: %s\n", snap.Transcript)
	}
	if snap.Error != "" {
		fmt.Fprintf(w, "error: %s\n", snap.Error)
	}
}

func printHistory(w io.Writer, snap *session.Snapshot) {
	for _, e := range snap.History {
		fmt.Fprintf(w, "%s  %-9s %s\n", e.Time.Format(time.TimeOnly), e.Role, e.Text)
	}
}

// printLast shows what the assistant said for the turn that just ran.
func printLast(w io.Writer, snap *session.Snapshot) {
	for _, e := range snap.History {
		if e.Role == session.User {
			return
		}
		fmt.Fprintln(w, e.Text)
	}
}
