package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/spf13/cobra"
)

// guestAction is sent to the host for every line read from stdin.
type guestAction struct {
	Input string `json:"input"`
}

func newJoinCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "join <code>",
		Short: "Joins a room by code, prints the host's state and sends stdin lines as actions.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			controller, err := newController(ctx, opts)
			if err != nil {
				return err
			}

			done := make(chan struct{})
			var doneOnce sync.Once
			finish := func() { doneOnce.Do(func() { close(done) }) }

			controller.OnStateUpdate(func(state json.RawMessage) {
				fmt.Printf("State: %s\n", state)
			})
			controller.OnHostLeft(func() {
				fmt.Println("The host left the room")
				finish()
			})
			controller.OnDisconnect(func(err error) {
				fmt.Printf("Disconnected: %v\n", err)
				finish()
			})

			roomID, err := controller.JoinRoom(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Joined room %s, type a line to send an action\n", roomID)

			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "" {
						continue
					}
					if err := controller.SendAction(ctx, &guestAction{Input: line}); err != nil {
						log.Warn("Failed to send action: %v", err)
					}
				}
				finish()
			}()

			return runUntilDone(controller, done)
		},
	}
}
