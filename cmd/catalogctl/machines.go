package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"machine-catalog-backend/internal/catalog"
	"machine-catalog-backend/internal/store"
)

func newMachinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "machines",
		Aliases: []string{"machine", "m"},
		Short:   "List, inspect and edit machines",
	}
	cmd.AddCommand(
		newMachinesListCmd(),
		newMachinesBrowseCmd(),
		newMachinesGetCmd(),
		newMachinesCreateCmd(),
		newMachinesEditCmd(),
		newMachinesPlaceCmd(),
		newMachinesRenameCmd(),
		newMachinesDeleteCmd(),
	)
	return cmd
}

func newMachinesListCmd() *cobra.Command {
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List one page of machines",
		RunE: func(cmd *cobra.Command, args []string) error {
			pg, err := session.Machines(cmd.Context(), page, pageSize)
			if err != nil {
				return err
			}
			return printMachinePage(pg)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number (1-based)")
	cmd.Flags().IntVar(&pageSize, "page-size", store.DefaultPageSize, "Machines per page")
	return cmd
}

// newMachinesBrowseCmd pages through machines interactively. Neighboring
// pages are fetched in the background so paging is instant.
func newMachinesBrowseCmd() *cobra.Command {
	var pageSize int
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Page through machines interactively (n: next, p: previous, q: quit)",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewScanner(os.Stdin)
			page := 1
			for {
				pg, err := session.Machines(cmd.Context(), page, pageSize)
				if err != nil {
					return err
				}
				if err := printMachinePage(pg); err != nil {
					return err
				}
				session.PrefetchNeighbors(page, pageSize)

				fmt.Fprintf(os.Stdout, "page %d/%d [n/p/q]> ", pg.Page, max(pg.TotalPages, 1))
				if !in.Scan() {
					return in.Err()
				}
				switch strings.TrimSpace(in.Text()) {
				case "n", "":
					if page < pg.TotalPages {
						page++
					}
				case "p":
					if page > 1 {
						page--
					}
				case "q":
					return nil
				}
			}
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", store.DefaultPageSize, "Machines per page")
	return cmd
}

func newMachinesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a machine with its placements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			detail, err := session.Machine(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printMachineDetail(detail)
		},
	}
}

func newMachinesCreateCmd() *cobra.Command {
	var name, image string
	var places []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a machine with its initial placements",
		Example: `  catalogctl machines create --name Press --image /images/press.png \
    --place 3@R1C1 --place 7@R2C4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			placements, err := parsePlacements(places)
			if err != nil {
				return err
			}
			out, err := session.CreateMachine(cmd.Context(), catalog.MachineInput{Name: name, ImageRef: image, Placements: placements})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "machine %d created\n", out.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Machine name")
	cmd.Flags().StringVar(&image, "image", "", "Schematic image URL (see 'catalogctl upload')")
	cmd.Flags().StringArrayVar(&places, "place", nil, "Placement as <partId>@<location>; repeatable")
	return cmd
}

func newMachinesEditCmd() *cobra.Command {
	var name, image string
	var places []string
	var expected int64
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Replace a machine's name, image and placements at once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			placements, err := parsePlacements(places)
			if err != nil {
				return err
			}
			detail, err := session.EditMachine(cmd.Context(), id, catalog.MachineInput{
				Name: name, ImageRef: image, Placements: placements, ExpectedVersion: optionalVersion(expected),
			})
			if err != nil {
				return err
			}
			return printMachineDetail(detail)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Machine name")
	cmd.Flags().StringVar(&image, "image", "", "Schematic image URL")
	cmd.Flags().StringArrayVar(&places, "place", nil, "Placement as <partId>@<location>; repeatable")
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "Fail if the machine changed since this version")
	return cmd
}

func newMachinesPlaceCmd() *cobra.Command {
	var places []string
	var expected int64
	cmd := &cobra.Command{
		Use:   "place <id>",
		Short: "Replace the complete placement set of a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			placements, err := parsePlacements(places)
			if err != nil {
				return err
			}
			detail, err := session.ReplacePlacements(cmd.Context(), id, catalog.PlacementsInput{
				Placements: placements, ExpectedVersion: optionalVersion(expected),
			})
			if err != nil {
				return err
			}
			return printMachineDetail(detail)
		},
	}
	cmd.Flags().StringArrayVar(&places, "place", nil, "Placement as <partId>@<location>; repeatable")
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "Fail if the machine changed since this version")
	return cmd
}

func newMachinesRenameCmd() *cobra.Command {
	var name, image string
	var expected int64
	cmd := &cobra.Command{
		Use:   "rename <id>",
		Short: "Change a machine's name and image, keeping its placements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			detail, err := session.UpdateMachineMeta(cmd.Context(), id, catalog.MetaInput{
				Name: name, ImageRef: image, ExpectedVersion: optionalVersion(expected),
			})
			if err != nil {
				return err
			}
			return printMachineDetail(detail)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Machine name")
	cmd.Flags().StringVar(&image, "image", "", "Schematic image URL")
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "Fail if the machine changed since this version")
	return cmd
}

func newMachinesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a machine with its placements and image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := session.DeleteMachine(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "machine %d deleted\n", id)
			return nil
		},
	}
}

func printMachinePage(pg store.MachinePage) error {
	rows := make([][]string, 0, len(pg.Items))
	for _, m := range pg.Items {
		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10),
			truncate(m.Name, 40),
			strconv.FormatInt(m.TotalPecas, 10),
			strconv.FormatInt(m.Version, 10),
			m.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	if err := printOutput(os.Stdout, pg, []string{"id", "name", "parts", "version", "updated"}, rows); err != nil {
		return err
	}
	if f, _ := parseOutputFormat(outputFlag); f == outputTable {
		fmt.Fprintf(os.Stdout, "\n%d machine(s), page %d of %d\n", pg.Total, pg.Page, pg.TotalPages)
	}
	return nil
}

func printMachineDetail(d store.MachineDetail) error {
	rows := make([][]string, 0, len(d.Placements))
	for _, p := range d.Placements {
		rows = append(rows, []string{
			layout.Label(p.Location),
			strconv.FormatInt(p.PartID, 10),
			truncate(p.Name, 30),
			truncate(p.StoreLink, 50),
		})
	}
	if f, _ := parseOutputFormat(outputFlag); f == outputTable {
		fmt.Fprintf(os.Stdout, "Machine:  %d %s (version %d)\nImage:    %s\n\n", d.ID, d.Name, d.Version, d.ImageRef)
	}
	return printOutput(os.Stdout, d, []string{"location", "part", "name", "store link"}, rows)
}

// parsePlacements reads "<partId>@<location>" flags. Locations go through
// the grid so operators can use overlay labels.
func parsePlacements(values []string) ([]store.PlacementInput, error) {
	out := make([]store.PlacementInput, 0, len(values))
	for _, v := range values {
		partRaw, locRaw, ok := strings.Cut(v, "@")
		if !ok {
			return nil, fmt.Errorf("placement %q must look like <partId>@<location>", v)
		}
		partID, err := parseID(partRaw)
		if err != nil {
			return nil, fmt.Errorf("placement %q: %w", v, err)
		}
		loc, err := layout.Parse(locRaw)
		if err != nil {
			return nil, fmt.Errorf("placement %q: %w", v, err)
		}
		out = append(out, store.PlacementInput{PartID: partID, Location: loc})
	}
	return out, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func optionalVersion(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}
