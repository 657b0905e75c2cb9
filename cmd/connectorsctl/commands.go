package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/STRATINT/connectors/internal/auth"
	"github.com/STRATINT/connectors/internal/front"
	"github.com/STRATINT/connectors/internal/models"
	"github.com/STRATINT/connectors/internal/result"
)

const DefaultAddress = "http://127.0.0.1:3002"

type clientConfig struct {
	Address string
	Token   string
	Timeout time.Duration
}

func (c *clientConfig) NewClient() (*front.Client, error) {
	if c.Token == "" {
		return nil, fmt.Errorf("a token is required: pass --token or set CONNECTORS_TOKEN")
	}
	return front.NewClient(c.Address, c.Token, c.Timeout), nil
}

func RootCommand() *cobra.Command {
	cfg := &clientConfig{}

	address := os.Getenv("CONNECTORS_API")
	if address == "" {
		address = DefaultAddress
	}

	cmd := &cobra.Command{
		Use:           "connectorsctl",
		Short:         "Operate connectors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfg.Address, "address", address, "Address of the connectors API")
	cmd.PersistentFlags().StringVar(&cfg.Token, "token", os.Getenv("CONNECTORS_TOKEN"), "Bearer token")
	cmd.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", 60*time.Second, "Request timeout")

	cmd.AddCommand(
		GetCommand(cfg),
		DeleteCommand(cfg),
		PauseCommand(cfg),
		ResumeCommand(cfg),
		TokenCommand(),
	)

	return cmd
}

func GetCommand(cfg *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "get [connector-id]",
		Short: "Show a connector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cfg.NewClient()
			if err != nil {
				return err
			}
			summary, rerr := client.GetConnector(cmd.Context(), args[0]).Unpack()
			if rerr != nil {
				return failure(rerr)
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func DeleteCommand(cfg *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [connector-id]",
		Short: "Delete a connector and its provider resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cfg.NewClient()
			if err != nil {
				return err
			}
			if rerr := client.DeleteConnectorByID(cmd.Context(), args[0]).Error(); rerr != nil {
				return failure(rerr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully deleted connector %s\n", args[0])
			return nil
		},
	}
}

func PauseCommand(cfg *clientConfig) *cobra.Command {
	var ref models.DataSourceRef

	cmd := &cobra.Command{
		Use:   "pause [provider]",
		Short: "Pause the connector of a data source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := models.ParseConnectorProvider(args[0])
			if err != nil {
				return err
			}
			client, err := cfg.NewClient()
			if err != nil {
				return err
			}
			id, rerr := client.PauseConnector(cmd.Context(), provider, ref).Unpack()
			if rerr != nil {
				return failure(rerr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully paused connector %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&ref.WorkspaceID, "workspace", "", "Workspace id")
	cmd.Flags().StringVar(&ref.DataSourceName, "data-source", "", "Data source name")
	cmd.MarkFlagRequired("workspace")
	cmd.MarkFlagRequired("data-source")

	return cmd
}

func ResumeCommand(cfg *clientConfig) *cobra.Command {
	var req models.ResumeConnectorRequest

	cmd := &cobra.Command{
		Use:   "resume [provider]",
		Short: "Resume the connector of a data source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := models.ParseConnectorProvider(args[0])
			if err != nil {
				return err
			}
			client, err := cfg.NewClient()
			if err != nil {
				return err
			}
			id, rerr := client.ResumeConnector(cmd.Context(), provider, req).Unpack()
			if rerr != nil {
				return failure(rerr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully resumed connector %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.WorkspaceID, "workspace", "", "Workspace id")
	cmd.Flags().StringVar(&req.DataSourceName, "data-source", "", "Data source name")
	cmd.Flags().StringVar(&req.ConnectionID, "connection", "", "Replace the stored broker connection id")
	cmd.MarkFlagRequired("workspace")
	cmd.MarkFlagRequired("data-source")

	return cmd
}

func TokenCommand() *cobra.Command {
	var (
		secret string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Mint an operator token signed with the shared secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateToken(args[0], secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", os.Getenv("CONNECTORS_SECRET"), "Shared secret of the connectors service")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	return cmd
}

// failure renders a failed call. An unknown outcome is called out since the
// operation may have happened.
func failure(rerr *result.Error) error {
	if rerr.OutcomeUnknown() {
		return fmt.Errorf("outcome unknown, check the connector before retrying: %s", rerr.Message)
	}
	return fmt.Errorf("%s: %s", rerr.Type, rerr.Message)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
