package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// errReported marks failures already printed to stderr.
var errReported = errors.New("command failed")

var rootCmd = &cobra.Command{
	Use:           "ephemera",
	Short:         "ephemera CLI",
	Long:          "Send and read self-destructing messages through an ephemera server.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			printError(err.Error())
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")

	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(receiveCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(configCmd())
}

func fail(err error) error {
	printError(err.Error())
	return errReported
}

// --- messages ---

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Send a message (reads stdin when no text is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			views, _ := cmd.Flags().GetInt("views")
			var content string
			if len(args) == 1 {
				content = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fail(fmt.Errorf("reading stdin: %w", err))
				}
				content = strings.TrimRight(string(data), "\n")
			}
			result, err := newClient().send(content, views)
			if err != nil {
				return fail(err)
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().Int("views", 0, "Number of times the message may be read (default: server setting)")
	return cmd
}

func receiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receive <id|url>",
		Short: "Read a message, consuming one view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := newClient().receive(messageID(args[0]))
			if err != nil {
				return fail(err)
			}
			printContent(content)
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|url>",
		Short: "Delete a message (requires the admin token)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := messageID(args[0])
			if err := newClient().delete("/v1/messages/" + id); err != nil {
				return fail(err)
			}
			printSuccess("Deleted " + id)
			return nil
		},
	}
}

// --- sys ---

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/sys/health")
			if err != nil {
				return fail(err)
			}
			printResult(result)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage CLI configuration"}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value (address, admin_token, tls_ca_cert)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setConfigValue(args[0], args[1]); err != nil {
				return fail(err)
			}
			if err := saveConfig(); err != nil {
				return fail(fmt.Errorf("saving config: %w", err))
			}
			printSuccess("Saved " + configPath())
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if cfg.AdminToken != "" {
				token = "(set)"
			}
			printResult(map[string]any{
				"address":     cfg.Address,
				"admin_token": token,
				"tls_ca_cert": cfg.TLSCACert,
			})
			return nil
		},
	}

	cmd.AddCommand(setCmd, showCmd)
	return cmd
}
