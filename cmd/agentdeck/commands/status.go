package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the agent server is reachable",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, cleanup, err := buildApp()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := app.client.BaseURL()
	if err := app.client.Health(ctx); err != nil {
		fmt.Printf("offline  %s\n", url)
		return err
	}
	fmt.Printf("online   %s\n", url)
	return nil
}
