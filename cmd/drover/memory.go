package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mgearhart/drover/internal/memory"
	"github.com/mgearhart/drover/pkg/models"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain the tiered memory store",
}

var memoryListCmd = &cobra.Command{
	Use:   "list <short|working|long>",
	Short: "List items in a memory tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, mem *memory.Store) error {
			tier := models.MemoryTier(args[0])
			if !tier.Valid() {
				return fmt.Errorf("unknown tier %q (want short, working, or long)", args[0])
			}
			items, err := mem.List(ctx, tier)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Printf("No items in the %s tier.\n", tier)
				return nil
			}
			for _, item := range items {
				printMemoryItem(item)
			}
			return nil
		})
	},
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-tier item counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, mem *memory.Store) error {
			counts, err := mem.TierCounts(ctx)
			if err != nil {
				return err
			}
			for _, tier := range []models.MemoryTier{models.TierShort, models.TierWorking, models.TierLong} {
				fmt.Printf("%-8s %d\n", tier, counts[tier])
			}
			return nil
		})
	},
}

var memoryPinCmd = &cobra.Command{
	Use:   "pin <id>",
	Short: "Pin an item so expiry sweeps skip it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, mem *memory.Store) error {
			if err := mem.Pin(ctx, args[0]); err != nil {
				return err
			}
			color.Green("pinned %s", args[0])
			return nil
		})
	},
}

var memoryUnpinCmd = &cobra.Command{
	Use:   "unpin <id>",
	Short: "Remove an item's expiry exemption",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, mem *memory.Store) error {
			if err := mem.Unpin(ctx, args[0]); err != nil {
				return err
			}
			color.Green("unpinned %s", args[0])
			return nil
		})
	},
}

var memoryInvalidateCmd = &cobra.Command{
	Use:   "invalidate <id>",
	Short: "Delete an item regardless of tier or pin state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, mem *memory.Store) error {
			if err := mem.Invalidate(ctx, args[0]); err != nil {
				return err
			}
			color.Magenta("invalidated %s", args[0])
			return nil
		})
	},
}

var memoryExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Sweep expired short and working tier items",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, mem *memory.Store) error {
			n, err := mem.Expire(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("expired %d items\n", n)
			return nil
		})
	},
}

var memoryPromoteCmd = &cobra.Command{
	Use:   "promote [id]",
	Short: "Promote eligible working-tier items to long-term memory",
	Long: `With no argument, every working-tier item meeting the promotion
criteria (access count, success weight, age, distinct projects) moves to
the long tier. With an id, that item is promoted directly.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, mem *memory.Store) error {
			if len(args) == 1 {
				if err := mem.Promote(ctx, args[0], models.TierLong); err != nil {
					return err
				}
				color.Green("promoted %s to long", args[0])
				return nil
			}
			ids, err := mem.PromoteEligible(ctx)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("No items eligible for promotion.")
				return nil
			}
			for _, id := range ids {
				color.Green("promoted %s to long", id)
			}
			return nil
		})
	},
}

func init() {
	memoryCmd.AddCommand(memoryListCmd)
	memoryCmd.AddCommand(memoryStatsCmd)
	memoryCmd.AddCommand(memoryPinCmd)
	memoryCmd.AddCommand(memoryUnpinCmd)
	memoryCmd.AddCommand(memoryInvalidateCmd)
	memoryCmd.AddCommand(memoryExpireCmd)
	memoryCmd.AddCommand(memoryPromoteCmd)
}

// withMemory opens the store from the loaded config, runs fn, and closes
// it again. Every memory subcommand goes through here.
func withMemory(fn func(ctx context.Context, mem *memory.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mem, err := memory.Open(memory.DBPath(cfg.DataDir), memory.Options{
		ShortTTL:           cfg.Memory.ShortTTL,
		WorkingTTL:         cfg.Memory.WorkingTTL,
		RecencyWindow:      cfg.Memory.RecencyWindow,
		PromoteMinAccess:   cfg.Memory.PromoteMinAccess,
		PromoteMinWeight:   cfg.Memory.PromoteMinWeight,
		PromoteMinAge:      cfg.Memory.PromoteMinAge,
		PromoteMinProjects: cfg.Memory.PromoteMinProjects,
	})
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer mem.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, mem)
}

func printMemoryItem(item *models.MemoryItem) {
	content := item.Content
	if len(content) > 72 {
		content = content[:69] + "..."
	}
	flags := ""
	if item.Pinned {
		flags = " [pinned]"
	}
	fmt.Printf("%s  %s%s\n", item.ID, content, flags)
	meta := []string{
		fmt.Sprintf("accessed %d", item.AccessCount),
		fmt.Sprintf("weight %.2f", item.SuccessWeight),
		fmt.Sprintf("age %s", time.Since(item.CreatedAt).Round(time.Minute)),
	}
	if item.ProjectID != "" {
		meta = append(meta, "project "+item.ProjectID)
	}
	if len(item.Tags) > 0 {
		meta = append(meta, "tags "+strings.Join(item.Tags, ","))
	}
	fmt.Printf("          %s\n", strings.Join(meta, " | "))
}
