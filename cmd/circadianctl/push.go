package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/client"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/source/file"
)

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().String("server", "http://localhost:"+config.DefaultPort, "Server base URL")
	pushCmd.Flags().Int("batch", config.MaxSamplesPerRequest, "Samples per request")
}

// pushCmd uploads the sample file to a running server
var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the sample file to a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		batch, _ := cmd.Flags().GetInt("batch")

		samples, err := file.Load(samplesFile)
		if err != nil {
			return err
		}

		c, err := client.New(client.Config{Endpoint: server, BatchSize: batch})
		if err != nil {
			return err
		}

		accepted, err := c.PushSamples(cmd.Context(), samples)
		if err != nil {
			return fmt.Errorf("pushed %d of %d samples: %w", accepted, len(samples), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d samples to %s\n", accepted, server)
		return nil
	},
}
