package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taployalty/tapagent/internal/registry"
	"github.com/taployalty/tapagent/internal/store"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

var apikeysCmd = &cobra.Command{
	Use:   "apikeys",
	Short: "Manage merchant API keys",
	Long:  `Mint and list the bearer keys the HTTP API resolves to merchant identities.`,
}

var apikeysCreateCmd = &cobra.Command{
	Use:   "create <merchant-id>",
	Short: "Mint a new API key for a merchant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")

		return withLocalRegistry(cmd, func(ctx context.Context, _ *registry.Registry, worker *store.Worker) error {
			key := ulid.Make().String()
			doc, err := json.Marshal(store.APIKeyDoc{MerchantID: args[0], Label: label})
			if err != nil {
				return err
			}

			if _, err := worker.Put(store.CollectionAPIKeys, key, doc, "createdAt"); err != nil {
				return err
			}

			fmt.Printf("✓ Created API key for merchant %s\n", args[0])
			fmt.Printf("\n  %s\n\n", key)
			fmt.Println("Pass it as 'Authorization: Bearer <key>' on API requests.")
			return nil
		})
	},
}

var apikeysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		merchantFilter, _ := cmd.Flags().GetString("merchant")

		return withLocalRegistry(cmd, func(ctx context.Context, _ *registry.Registry, worker *store.Worker) error {
			docs, err := worker.List(store.CollectionAPIKeys, 0, false)
			if err != nil {
				return err
			}

			f := newAgentTableFormatter()
			t := table.New().
				Border(lipgloss.NormalBorder()).
				BorderStyle(f.borderStyle).
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == table.HeaderRow {
						return f.headerStyle
					}
					return f.oddRowStyle
				}).
				Headers("Key", "Merchant", "Label", "Created")

			count := 0
			for _, d := range docs {
				var key store.APIKeyDoc
				if err := json.Unmarshal(d.Data, &key); err != nil {
					continue
				}
				if merchantFilter != "" && key.MerchantID != merchantFilter {
					continue
				}
				t.Row(d.ID, key.MerchantID, key.Label, key.CreatedAt)
				count++
			}

			if count == 0 {
				fmt.Println("No API keys found")
				return nil
			}
			fmt.Println(t.String())
			return nil
		})
	},
}

func init() {
	apikeysListCmd.Flags().StringP("merchant", "m", "", "Only show keys for this merchant")

	apikeysCreateCmd.Flags().String("label", "", "Human readable label for the key")

	apikeysCmd.AddCommand(apikeysCreateCmd)
	apikeysCmd.AddCommand(apikeysListCmd)
	rootCmd.AddCommand(apikeysCmd)
}
