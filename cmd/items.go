package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dropwatch/dropwatch/internal/model"
	"github.com/dropwatch/dropwatch/internal/store"
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Manage tracked items",
}

var (
	addUser    string
	addProduct string
	addDomain  string
	addTitle   string
	addMode    string
)

var itemsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Track a new product",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mode := model.ConditionMode(addMode)
		if !mode.Valid() {
			return eris.Errorf("invalid mode %q: use new_only or all_conditions", addMode)
		}

		env, err := initEngine(ctx, "items")
		if err != nil {
			return err
		}
		defer env.Close()

		item := &model.TrackedItem{
			UserID:  addUser,
			Product: model.Product{ID: addProduct, Domain: strings.ToLower(addDomain)},
			Title:   addTitle,
			Mode:    mode,
		}
		if err := env.store.CreateItem(ctx, item); err != nil {
			return err
		}

		// Seed both mode bound sets right away when the sources are
		// configured; failures leave the item tracked with empty bounds.
		if cfg.History.BaseURL != "" || cfg.Signal.BaseURL != "" {
			if seeded, err := env.engine.RefreshOne(ctx, item.ID); err != nil {
				zap.L().Warn("initial refresh failed", zap.String("item", item.ID), zap.Error(err))
			} else {
				item = seeded
			}
		}

		price := "-"
		if item.ActivePrice != nil {
			price = fmt.Sprintf("%.2f", *item.ActivePrice)
		}
		fmt.Printf("tracking %s on %s (id %s, mode %s, price %s)\n", item.Product.ID, item.Product.Domain, item.ID, item.Mode, price)
		return nil
	},
}

var (
	listUser   string
	listDomain string
	listLimit  int
)

var itemsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initItems(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		items, err := env.store.ListItems(ctx, store.ItemFilter{
			UserID: listUser,
			Domain: listDomain,
			Limit:  listLimit,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%-36s  %-14s  %-14s  %-14s  %10s  %-12s\n", "ID", "PRODUCT", "DOMAIN", "MODE", "PRICE", "AVAILABILITY")
		for _, item := range items {
			price := "-"
			if item.ActivePrice != nil {
				price = fmt.Sprintf("%.2f", *item.ActivePrice)
			}
			fmt.Printf("%-36s  %-14s  %-14s  %-14s  %10s  %-12s\n",
				item.ID, item.Product.ID, item.Product.Domain, item.Mode, price, item.Availability)
		}
		fmt.Printf("\n%d items\n", len(items))
		return nil
	},
}

var itemsRemoveCmd = &cobra.Command{
	Use:   "rm <item-id>",
	Short: "Stop tracking an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initItems(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.store.DeleteItem(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

var itemsToggleCmd = &cobra.Command{
	Use:   "toggle <item-id>",
	Short: "Flip an item between new-only and all-conditions tracking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initItems(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		item, err := env.cache.Toggle(ctx, args[0])
		if err != nil {
			return err
		}

		price := "-"
		if item.ActivePrice != nil {
			price = fmt.Sprintf("%.2f", *item.ActivePrice)
		}
		fmt.Printf("%s now tracking %s, price %s\n", item.ID, item.Mode, price)
		return nil
	},
}

// importFile is the yaml shape accepted by `items import`.
type importFile struct {
	Items []struct {
		UserID    string `yaml:"user_id"`
		ProductID string `yaml:"product_id"`
		Domain    string `yaml:"domain"`
		Title     string `yaml:"title"`
		Mode      string `yaml:"mode"`
	} `yaml:"items"`
}

var itemsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Bulk import tracked items from a yaml file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}
		var file importFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return eris.Wrap(err, "parse import file")
		}

		items := make([]model.TrackedItem, 0, len(file.Items))
		for i, row := range file.Items {
			mode := model.ConditionMode(row.Mode)
			if row.Mode == "" {
				mode = model.ModeNewOnly
			}
			if !mode.Valid() {
				return eris.Errorf("item %d: invalid mode %q", i, row.Mode)
			}
			if row.UserID == "" || row.ProductID == "" || row.Domain == "" {
				return eris.Errorf("item %d: user_id, product_id, and domain are required", i)
			}
			items = append(items, model.TrackedItem{
				UserID:  row.UserID,
				Product: model.Product{ID: row.ProductID, Domain: strings.ToLower(row.Domain)},
				Title:   row.Title,
				Mode:    mode,
			})
		}

		env, err := initItems(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.store.ImportItems(ctx, items)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d items\n", n)
		return nil
	},
}

var historyLimit int

var itemsHistoryCmd = &cobra.Command{
	Use:   "history <item-id>",
	Short: "Show recorded price observations for an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initItems(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.store.ListHistory(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}
		for _, row := range rows {
			fmt.Printf("%s  %10.2f  %s\n", row.ObservedAt.Format("2006-01-02 15:04:05"), row.Price, row.Source)
		}
		fmt.Printf("\n%d observations\n", len(rows))
		return nil
	},
}

func init() {
	itemsAddCmd.Flags().StringVar(&addUser, "user", "", "owning user id")
	itemsAddCmd.Flags().StringVar(&addProduct, "product", "", "marketplace product id")
	itemsAddCmd.Flags().StringVar(&addDomain, "domain", "", "marketplace domain, e.g. amazon.com")
	itemsAddCmd.Flags().StringVar(&addTitle, "title", "", "display title")
	itemsAddCmd.Flags().StringVar(&addMode, "mode", string(model.ModeNewOnly), "condition mode: new_only or all_conditions")
	_ = itemsAddCmd.MarkFlagRequired("user")
	_ = itemsAddCmd.MarkFlagRequired("product")
	_ = itemsAddCmd.MarkFlagRequired("domain")

	itemsListCmd.Flags().StringVar(&listUser, "user", "", "filter by user id")
	itemsListCmd.Flags().StringVar(&listDomain, "domain", "", "filter by domain")
	itemsListCmd.Flags().IntVar(&listLimit, "limit", 0, "max items to list")

	itemsHistoryCmd.Flags().IntVar(&historyLimit, "limit", 50, "max observations to show")

	itemsCmd.AddCommand(itemsAddCmd, itemsListCmd, itemsRemoveCmd, itemsToggleCmd, itemsImportCmd, itemsHistoryCmd)
	rootCmd.AddCommand(itemsCmd)
}
