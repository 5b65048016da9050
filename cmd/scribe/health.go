package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client, err := newTranscriptionClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Service.GetTimeoutDuration())
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("transcription service at %s is unreachable: %w", cfg.Service.BaseURL, err)
	}

	active := "none"
	if health.ActiveSession != nil {
		active = string(*health.ActiveSession)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Service", "Status", "Model", "Active Session", "Sessions", "Server Time"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.Append([]string{
		cfg.Service.BaseURL,
		health.Status,
		health.Model,
		active,
		strconv.Itoa(health.TotalSessions),
		health.ServerTime,
	})
	table.Render()

	return nil
}
