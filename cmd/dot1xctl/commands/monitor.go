package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// stateChangeEvent mirrors the daemon's state-change JSON.
type stateChangeEvent struct {
	Port       int       `json:"Port"`
	Machine    string    `json:"Machine"`
	OldState   string    `json:"OldState"`
	NewState   string    `json:"NewState"`
	Authorized bool      `json:"Authorized"`
	Timestamp  time.Time `json:"Timestamp"`
}

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Stream port state-change events",
		Long:  "Connects to the godot1x daemon and streams FSM events until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet,
				baseURL+"/api/v1/events", nil)
			if err != nil {
				return fmt.Errorf("build events request: %w", err)
			}

			// The stream is long-lived; use a client without the
			// default timeout.
			resp, err := (&http.Client{}).Do(req)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("watch events: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return apiError("/api/v1/events", resp)
			}

			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				var ev stateChangeEvent
				if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
					continue
				}
				out, fmtErr := formatEvent(ev, outputFormat)
				if fmtErr != nil {
					return fmt.Errorf("format event: %w", fmtErr)
				}
				fmt.Println(out)
			}

			if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("event stream: %w", err)
			}
			return nil
		},
	}
}
