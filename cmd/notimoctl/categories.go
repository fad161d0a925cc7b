package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/notimo/notimo-api/internal/domain"

	"github.com/spf13/cobra"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Inspect and edit predefined categories",
	}

	cmd.AddCommand(categoriesListCmd())
	cmd.AddCommand(categoriesUpdateCmd())

	return cmd
}

func categoriesListCmd() *cobra.Command {
	var inactive bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List predefined categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, categories, err := openCategories()
			if err != nil {
				return err
			}
			defer db.Close()

			active := !inactive
			views, err := categories.List(cmd.Context(), "", domain.CategoryFilter{
				Scope:  domain.ScopePredefined,
				Active: &active,
			})
			if err != nil {
				return err
			}
			return printCategories(cmd.OutOrStdout(), views)
		},
	}
	cmd.Flags().BoolVar(&inactive, "inactive", false, "list deactivated categories instead")
	return cmd
}

func printCategories(out io.Writer, views []domain.CategoryView) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNOM\tTYPE\tICONE\tCOULEUR\tORDRE\tACTIVE")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%t\n", v.ID, v.Name, v.TypeDisplay, v.Icon, v.Color, v.Order, v.IsActive)
	}
	return w.Flush()
}

func categoriesUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a predefined category",
		Long:  `Update the name, icon, color, order or active flag of any category. Only the flags given are changed.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := patchFromFlags(cmd)
			if err != nil {
				return err
			}

			db, categories, err := openCategories()
			if err != nil {
				return err
			}
			defer db.Close()

			c, err := categories.UpdateAsSystem(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s (%s)\n", c.ID, c.Name)
			return nil
		},
	}
	cmd.Flags().String("name", "", "new name")
	cmd.Flags().String("icon", "", "new icon")
	cmd.Flags().String("color", "", "new color (#RRGGBB)")
	cmd.Flags().Int("order", 0, "new display order")
	cmd.Flags().Bool("active", true, "whether the category can be used")
	return cmd
}

// patchFromFlags builds a patch holding only the flags set on the command line.
func patchFromFlags(cmd *cobra.Command) (*domain.CategoryPatch, error) {
	flags := cmd.Flags()
	patch := &domain.CategoryPatch{}
	if flags.Changed("name") {
		v, _ := flags.GetString("name")
		patch.Name = &v
	}
	if flags.Changed("icon") {
		v, _ := flags.GetString("icon")
		patch.Icon = &v
	}
	if flags.Changed("color") {
		v, _ := flags.GetString("color")
		patch.Color = &v
	}
	if flags.Changed("order") {
		v, _ := flags.GetInt("order")
		patch.Order = &v
	}
	if flags.Changed("active") {
		v, _ := flags.GetBool("active")
		patch.IsActive = &v
	}
	if *patch == (domain.CategoryPatch{}) {
		return nil, fmt.Errorf("nothing to update: pass at least one of --name, --icon, --color, --order, --active")
	}
	return patch, nil
}
