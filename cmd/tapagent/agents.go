package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taployalty/tapagent/internal/agent"
	"github.com/taployalty/tapagent/internal/daemon/components"
	"github.com/taployalty/tapagent/internal/registry"
	"github.com/taployalty/tapagent/internal/store"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect and manage agent enrollments",
	Long:  `Operate on a merchant's agent enrollments directly against the local store. The daemon must not be running; the store is single-writer.`,
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled agents for a merchant",
	RunE: func(cmd *cobra.Command, args []string) error {
		merchantID, err := requireMerchant(cmd)
		if err != nil {
			return err
		}

		return withLocalRegistry(cmd, func(ctx context.Context, reg *registry.Registry, _ *store.Worker) error {
			records, err := reg.List(ctx, merchantID)
			if err != nil {
				return err
			}
			return renderOutput(cmd, records, func() string {
				return newAgentTableFormatter().FormatAgents(records)
			})
		})
	},
}

var agentsShowCmd = &cobra.Command{
	Use:   "show <agent-id>",
	Short: "Show one enrollment in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		merchantID, err := requireMerchant(cmd)
		if err != nil {
			return err
		}

		return withLocalRegistry(cmd, func(ctx context.Context, reg *registry.Registry, _ *store.Worker) error {
			rec, err := reg.Get(ctx, merchantID, args[0])
			if err != nil {
				return err
			}
			return renderOutput(cmd, rec, func() string {
				return newAgentTableFormatter().FormatAgent(rec)
			})
		})
	},
}

var agentsConnectCmd = &cobra.Command{
	Use:   "connect <agent-type>",
	Short: "Enroll an agent for a merchant",
	Long:  `Enroll an agent of the given type (customer-service, email-summary, email-categorizer, custom). Custom agents get a generated id and require --prompt.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		merchantID, err := requireMerchant(cmd)
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("name")
		prompt, _ := cmd.Flags().GetString("prompt")
		description, _ := cmd.Flags().GetString("description")
		rawSettings, _ := cmd.Flags().GetString("settings")

		var settings json.RawMessage
		if rawSettings != "" {
			settings = json.RawMessage(rawSettings)
		}

		return withLocalRegistry(cmd, func(ctx context.Context, reg *registry.Registry, _ *store.Worker) error {
			rec, err := reg.Connect(ctx, registry.ConnectParams{
				MerchantID:       merchantID,
				AgentType:        agent.AgentType(args[0]),
				AgentName:        name,
				Settings:         settings,
				Prompt:           prompt,
				AgentDescription: description,
			})
			if err != nil {
				return err
			}

			fmt.Printf("✓ Connected %s (%s) for merchant %s\n", rec.AgentID, rec.AgentType, merchantID)
			return renderOutput(cmd, rec, func() string {
				return newAgentTableFormatter().FormatAgent(rec)
			})
		})
	},
}

var agentsDisconnectCmd = &cobra.Command{
	Use:   "disconnect <agent-id>",
	Short: "Deactivate an enrollment without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		merchantID, err := requireMerchant(cmd)
		if err != nil {
			return err
		}

		return withLocalRegistry(cmd, func(ctx context.Context, reg *registry.Registry, _ *store.Worker) error {
			rec, err := reg.Disconnect(ctx, merchantID, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("✓ Disconnected %s (status: %s)\n", rec.AgentID, rec.Status)
			return nil
		})
	},
}

var agentsDeleteCmd = &cobra.Command{
	Use:   "delete <agent-id>",
	Short: "Delete an enrollment and its schedule projection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		merchantID, err := requireMerchant(cmd)
		if err != nil {
			return err
		}

		return withLocalRegistry(cmd, func(ctx context.Context, reg *registry.Registry, _ *store.Worker) error {
			if err := reg.DeleteAgent(ctx, merchantID, args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Deleted %s\n", args[0])
			return nil
		})
	},
}

// withLocalRegistry spins up a store worker and registry for one command
// invocation. The worker takes the store lock, so these commands fail fast
// when a daemon holds it.
func withLocalRegistry(cmd *cobra.Command, fn func(ctx context.Context, reg *registry.Registry, worker *store.Worker) error) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	ctx := cmd.Context()

	storeComp := components.NewStoreWorkerComponent(cfg.Daemon.DataPath, &cfg.Store)
	if err := storeComp.Init(ctx); err != nil {
		return err
	}
	if err := storeComp.Start(ctx); err != nil {
		return err
	}
	defer storeComp.Stop(ctx)

	registryComp := components.NewRegistryComponent(storeComp, &cfg.Upstream)
	if err := registryComp.Init(ctx); err != nil {
		return err
	}

	return fn(ctx, registryComp.GetRegistry(), storeComp.GetWorker())
}

func requireMerchant(cmd *cobra.Command) (string, error) {
	merchantID, _ := cmd.Flags().GetString("merchant")
	if merchantID == "" {
		return "", fmt.Errorf("--merchant is required")
	}
	return merchantID, nil
}

func init() {
	agentsCmd.PersistentFlags().StringP("merchant", "m", "", "Merchant ID to operate on")
	agentsCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table, json, yaml)")

	agentsConnectCmd.Flags().String("name", "", "Display name for the agent")
	agentsConnectCmd.Flags().String("prompt", "", "Instruction prompt (custom agents)")
	agentsConnectCmd.Flags().String("description", "", "Agent description (custom agents)")
	agentsConnectCmd.Flags().String("settings", "", "Settings overrides as a JSON object")

	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsShowCmd)
	agentsCmd.AddCommand(agentsConnectCmd)
	agentsCmd.AddCommand(agentsDisconnectCmd)
	agentsCmd.AddCommand(agentsDeleteCmd)
	rootCmd.AddCommand(agentsCmd)
}
