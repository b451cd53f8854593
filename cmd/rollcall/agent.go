package main

import (
	"github.com/spf13/cobra"

	"smart-roll-call/internal/agent"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the gateway: access point, presence polling and reporting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		logger.Info("starting smart roll call agent", "version", version, "commit", commit, "built", date)

		a, err := agent.NewAgent(cfg, agent.Options{Logger: logger})
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- a.Run() }()

		runErr := waitForSignal(errCh)
		logger.Info("shutting down agent...")
		a.Shutdown()
		if runErr != nil {
			return runErr
		}
		logger.Info("agent shut down gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
}
