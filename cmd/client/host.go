package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/presence"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/roomcode"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

const qrSize = 256

// hostState is the snapshot the host streams to the guest.
type hostState struct {
	Tick    int64     `json:"tick"`
	SentAt  time.Time `json:"sentAt"`
	Actions int       `json:"actions"`
}

// announceRoom prints the code the way players type it, and optionally writes it as a QR code.
func announceRoom(w io.Writer, code string, qrFile string) {
	code = roomcode.Display(code)
	fmt.Fprintf(w, "Room code: %s\n", code)
	if qrFile == "" {
		return
	}
	if err := qrcode.WriteFile(code, qrcode.Medium, qrSize, qrFile); err != nil {
		log.Warn("Failed to write QR code: %v", err)
		return
	}
	fmt.Fprintf(w, "QR code written to %s\n", qrFile)
}

func newHostCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Creates a room and streams state to the guest once they join.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			controller, err := newController(ctx, opts)
			if err != nil {
				return err
			}

			room, err := controller.CreateRoom(ctx)
			if err != nil {
				return err
			}
			announceRoom(os.Stdout, room.Code, opts.qrFile)

			guestJoined := make(chan presence.Entry, 1)
			var joinOnce sync.Once
			controller.OnPresenceChange(func(entries []presence.Entry) {
				if guest, ok := presence.FindRole(entries, presence.RoleGuest); ok {
					joinOnce.Do(func() { guestJoined <- guest })
				}
			})

			var actions int
			actionCh := make(chan json.RawMessage, 16)
			controller.OnGuestAction(func(action json.RawMessage) {
				select {
				case actionCh <- action:
				default:
					log.Warn("Dropping guest action, too many pending")
				}
			})

			done := make(chan struct{})
			var doneOnce sync.Once
			controller.OnDisconnect(func(err error) {
				fmt.Printf("Disconnected: %v\n", err)
				doneOnce.Do(func() { close(done) })
			})

			go func() {
				ticker := time.NewTicker(opts.interval)
				defer ticker.Stop()
				var tick int64
				for {
					select {
					case <-done:
						return
					case guest := <-guestJoined:
						fmt.Printf("Guest %s joined\n", guest.DisplayName)
						if err := controller.SetRoomPlaying(ctx); err != nil {
							log.Warn("Failed to mark room as playing: %v", err)
						}
					case action := <-actionCh:
						actions++
						fmt.Printf("Guest action: %s\n", action)
					case <-ticker.C:
						tick++
						if err := controller.SendState(ctx, &hostState{Tick: tick, SentAt: time.Now(), Actions: actions}); err != nil {
							log.Warn("Failed to send state: %v", err)
						}
					}
				}
			}()

			return runUntilDone(controller, done)
		},
	}

	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "time between state snapshots")
	cmd.Flags().StringVar(&opts.qrFile, "qr-file", "", "write the room code as a PNG QR code to this path")
	return cmd
}
