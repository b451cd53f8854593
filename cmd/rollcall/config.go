package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"smart-roll-call/internal/config"
)

var flagReveal bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the site constants and runtime configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report placeholders and invalid site values; exits non-zero if any",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		issues := config.Check(cfg.Site, cfg.Radio.CountryCode)
		out := cmd.OutOrStdout()
		if len(issues) == 0 {
			fmt.Fprintln(out, "site configuration OK")
			return nil
		}
		for _, i := range issues {
			fmt.Fprintf(out, "%-12s %-20s %s\n", i.Kind, i.Field, i.Message)
		}
		return fmt.Errorf("%d site configuration issue(s)", len(issues))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		site := cfg.Site
		if !flagReveal {
			site.APPassword = mask(site.APPassword)
			site.WiFiPassword = mask(site.WiFiPassword)
			cfg.MQTT.Password = mask(cfg.MQTT.Password)
			for _, p := range []*string{cfg.SiteOverrides.APPassword, cfg.SiteOverrides.WiFiPassword} {
				if p != nil {
					*p = mask(*p)
				}
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Site   config.Site    `json:"site"`
			Config *config.Config `json:"config"`
		}{site, cfg})
	},
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func init() {
	configShowCmd.Flags().BoolVar(&flagReveal, "reveal", false, "Print secrets in clear text")
	configCmd.AddCommand(configCheckCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
