package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dataanalyst/sandboxpool/internal/manager"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

func fetchStats(addr string) (manager.Stats, error) {
	var stats manager.Stats
	resp, err := httpClient.Get(fmt.Sprintf("http://%s/stats", addr))
	if err != nil {
		return stats, fmt.Errorf("could not reach sandboxctl at %s (is `sandboxctl up` running?): %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return stats, fmt.Errorf("GET /stats returned %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("decode /stats response: %w", err)
	}
	return stats, nil
}

// statusCmd corresponds to the "status" command of the admin tool.
func statusCmd(ctx *cli.Context) error {
	addr := ctx.String("addr")

	if ctx.Bool("watch") {
		return runDashboard(addr)
	}

	stats, err := fetchStats(addr)
	if err != nil {
		return err
	}

	if ctx.Bool("json") {
		enc := json.NewEncoder(ctx.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	fmt.Fprintf(ctx.App.Writer, "total=%d ready=%d executing=%d idle=%d suspended=%d\n",
		stats.Total, stats.Ready, stats.Executing, stats.Idle, stats.Suspended)
	return nil
}

// warmCmd corresponds to the "warm" command of the admin tool.
func warmCmd(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("usage: sandboxctl warm N")
	}
	addr := ctx.String("addr")
	n := ctx.Args().First()

	resp, err := httpClient.Post(
		fmt.Sprintf("http://%s/warm?n=%s", addr, url.QueryEscape(n)),
		"application/octet-stream", nil)
	if err != nil {
		return fmt.Errorf("could not reach sandboxctl at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST /warm returned %d: %s", resp.StatusCode, body)
	}
	fmt.Fprintf(ctx.App.Writer, "warm-up of %s sandboxes requested\n", n)
	return nil
}

// downCmd corresponds to the "down" command of the admin tool.
func downCmd(ctx *cli.Context) error {
	addr := ctx.String("addr")
	resp, err := httpClient.Post(fmt.Sprintf("http://%s/shutdown", addr), "application/octet-stream", nil)
	if err != nil {
		return fmt.Errorf("could not reach sandboxctl at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST /shutdown returned %d: %s", resp.StatusCode, body)
	}
	fmt.Fprintln(ctx.App.Writer, "shutdown requested")
	return nil
}
