package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"machine-catalog-backend/internal/catalog"
	"machine-catalog-backend/internal/model"
)

func newPartsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "parts",
		Aliases: []string{"part", "p"},
		Short:   "Manage the shared part catalog",
	}
	cmd.AddCommand(newPartsListCmd(), newPartsCreateCmd(), newPartsUpdateCmd(), newPartsDeleteCmd())
	return cmd
}

func newPartsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every part",
		RunE: func(cmd *cobra.Command, args []string) error {
			parts, err := session.Parts(cmd.Context())
			if err != nil {
				return err
			}
			return printParts(parts)
		},
	}
}

func newPartsCreateCmd() *cobra.Command {
	var in catalog.PartInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a part to the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			part, err := session.CreatePart(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printParts([]model.Part{part})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "Part name")
	cmd.Flags().StringVar(&in.StoreLink, "link", "", "Where the part can be bought")
	return cmd
}

func newPartsUpdateCmd() *cobra.Command {
	var in catalog.PartInput
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a part's name and store link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			part, err := session.UpdatePart(cmd.Context(), id, in)
			if err != nil {
				return err
			}
			return printParts([]model.Part{part})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "Part name")
	cmd.Flags().StringVar(&in.StoreLink, "link", "", "Where the part can be bought")
	return cmd
}

func newPartsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a part and remove it from every machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := session.DeletePart(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "part %d deleted\n", id)
			return nil
		},
	}
}

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a schematic image and print its URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			url, err := session.UploadImage(cmd.Context(), filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, url)
			return nil
		},
	}
}

func printParts(parts []model.Part) error {
	rows := make([][]string, 0, len(parts))
	for _, p := range parts {
		rows = append(rows, []string{strconv.FormatInt(p.ID, 10), truncate(p.Name, 40), truncate(p.StoreLink, 60)})
	}
	return printOutput(os.Stdout, parts, []string{"id", "name", "store link"}, rows)
}
