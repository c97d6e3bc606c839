package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/editsuite/orchestrator/internal/config"
	"github.com/editsuite/orchestrator/internal/pyservice"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type detailedHealth struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Services map[string]struct {
		URL     string `json:"url"`
		Healthy bool   `json:"healthy"`
	} `json:"services"`
}

func newCheckCommand(opts *config.Options) *cobra.Command {
	var baseURL string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Query /health/detailed of a running orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				cfg, err := config.Load(*opts)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				baseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
			}
			client := pyservice.NewClient("orchestrator", baseURL, timeout, zap.NewNop())
			return runCheck(cmd, client, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "Orchestrator base URL (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}

func runCheck(cmd *cobra.Command, client *pyservice.Client, out io.Writer) error {
	resp := client.Get(cmd.Context(), "/health/detailed", nil)
	if !resp.Success {
		return fmt.Errorf("orchestrator at %s unreachable: %s", client.BaseURL(), resp.Error)
	}

	var health detailedHealth
	if err := json.Unmarshal(resp.Data, &health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}

	names := make([]string, 0, len(health.Services))
	for name := range health.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "orchestrator %s: %s\n", health.Version, health.Status)
	for _, name := range names {
		svc := health.Services[name]
		state := "up"
		if !svc.Healthy {
			state = "DOWN"
		}
		fmt.Fprintf(out, "  %-18s %-5s %s\n", name, state, svc.URL)
	}

	if health.Status != "ok" {
		return fmt.Errorf("orchestrator is %s", health.Status)
	}
	return nil
}
