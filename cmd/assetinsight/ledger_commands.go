package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/ledger"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/records"
	"github.com/spf13/cobra"
)

func newRecordCommand(state *cli) *cobra.Command {
	var memo string
	cmd := &cobra.Command{
		Use:   "record <date> <category> <amount>",
		Short: "Record the amount held in a category on a day",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			snapshot, err := state.app.Ledger.RecordSnapshot(cmd.Context(), ledger.SnapshotInput{
				Date:       args[0],
				CategoryID: args[1],
				Amount:     amount,
				Memo:       memo,
			})
			if err != nil {
				return err
			}
			state.printf("%s %s %s\n", snapshot.Date, snapshot.CategoryID, formatAmount(snapshot.Amount))
			return nil
		},
	}
	cmd.Flags().StringVar(&memo, "memo", "", "Free-form note")
	return cmd
}

func newDeleteCommand(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <date> <category>",
		Short: "Delete a recorded amount on every device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := snapshotKey(args[0], args[1])
			if err != nil {
				return err
			}
			return state.app.Ledger.DeleteSnapshot(cmd.Context(), key)
		},
	}
}

func newTotalCommand(state *cli) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "total",
		Short: "Total of every category as of a day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := dateOrToday(date)
			if err != nil {
				return err
			}
			total, err := state.app.Aggregates.TotalAt(cmd.Context(), target)
			if err != nil {
				return err
			}
			state.printf("%s %s\n", target, formatAmount(total))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to total (YYYY-MM-DD, default today)")
	return cmd
}

func newBreakdownCommand(state *cli) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "breakdown",
		Short: "Per-category amounts as of a day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := dateOrToday(date)
			if err != nil {
				return err
			}
			rows, err := state.app.Aggregates.BreakdownAt(cmd.Context(), target)
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(state.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "CATEGORY\tAMOUNT\tAS OF")
			for _, row := range rows {
				name := row.Category.Name
				if !row.Known {
					name = row.Snapshot.CategoryID.String() + " (removed)"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\n", name, formatAmount(row.Snapshot.Amount), row.Snapshot.Date)
			}
			return writer.Flush()
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to break down (YYYY-MM-DD, default today)")
	return cmd
}

func newSeriesCommand(state *cli) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Daily totals over a range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			end, err := dateOrToday(to)
			if err != nil {
				return err
			}
			start := end.AddDays(-29)
			if from != "" {
				if start, err = records.NewDate(from); err != nil {
					return err
				}
			}
			points, err := state.app.Aggregates.Series(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			for _, point := range points {
				state.printf("%s %s\n", point.Date, formatAmount(point.Total))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First day (default 29 days before --to)")
	cmd.Flags().StringVar(&to, "to", "", "Last day (default today)")
	return cmd
}

func newCategoriesCommand(state *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List and edit categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			categories, err := state.app.Store.Categories().ListAll(cmd.Context())
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(state.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tNAME\tICON\tSTATE")
			for _, category := range categories {
				if category.State == records.StatePendingDelete {
					continue
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", category.ID, category.Name, category.Icon, category.State)
			}
			return writer.Flush()
		},
	}

	var icon string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a custom category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := state.app.Ledger.CreateCategory(cmd.Context(), ledger.CategoryInput{Name: args[0], Icon: icon})
			if err != nil {
				return err
			}
			state.printf("%s\n", created.ID)
			return nil
		},
	}
	add.Flags().StringVar(&icon, "icon", "", "Icon name")

	rename := &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := state.app.Ledger.UpdateCategory(cmd.Context(), ledger.CategoryInput{ID: args[0], Name: args[1]})
			return err
		},
	}

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a custom category; its history is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := records.NewCategoryID(args[0])
			if err != nil {
				return err
			}
			return state.app.Ledger.DeleteCategory(cmd.Context(), id)
		},
	}

	reorder := &cobra.Command{
		Use:   "reorder <id>...",
		Short: "Set the display order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]records.CategoryID, 0, len(args))
			for _, arg := range args {
				id, err := records.NewCategoryID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return state.app.Ledger.ReorderCategories(cmd.Context(), ids)
		},
	}

	cmd.AddCommand(add, rename, remove, reorder)
	return cmd
}

func snapshotKey(rawDate, rawCategory string) (records.SnapshotKey, error) {
	date, err := records.NewDate(rawDate)
	if err != nil {
		return records.SnapshotKey{}, err
	}
	categoryID, err := records.NewCategoryID(rawCategory)
	if err != nil {
		return records.SnapshotKey{}, err
	}
	return records.SnapshotKey{Date: date, CategoryID: categoryID}, nil
}

func dateOrToday(raw string) (records.Date, error) {
	if raw == "" {
		return records.DateOf(time.Now()), nil
	}
	return records.NewDate(raw)
}
