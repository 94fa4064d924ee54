package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// newStatusCommand is a Go-native addition with no Python precedent: a
// one-shot facade query against a running serve instance's /status
// endpoint, for operational convenience outside a browser.
func newStatusCommand() *cobra.Command {
	var addr string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running supervisor's /status endpoint and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: timeout}
			resp, err := client.Get(fmt.Sprintf("http://%s/status", addr))
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("status: reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status: unexpected response %d: %s", resp.StatusCode, body)
			}

			var pretty interface{}
			if err := json.Unmarshal(body, &pretty); err != nil {
				fmt.Println(string(body))
				return nil
			}
			out, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8090", "address of the running supervisor's HTTP adapter")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	return cmd
}
