package cmd

import (
	"fmt"
	"net/http"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/mes/api"
	"github.com/kilianp07/mes/core/model"
)

var capacityCmd = &cobra.Command{
	Use:   "capacity",
	Short: "Inspect and change shopfloor capacities",
}

var capacityLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List shopfloors with capacity and load",
	RunE:  runCapacityLs,
}

var capacitySetCmd = &cobra.Command{
	Use:   "set SHOPFLOOR CAPACITY",
	Short: "Set the capacity of a shopfloor, creating it if needed",
	Args:  cobra.ExactArgs(2),
	RunE:  runCapacitySet,
}

func init() {
	capacityCmd.AddCommand(capacityLsCmd, capacitySetCmd)
	rootCmd.AddCommand(capacityCmd)
}

func runCapacityLs(cmd *cobra.Command, _ []string) error {
	var sfs []model.Shopfloor
	if err := newClient().do(cmd.Context(), http.MethodGet, "/capacities", nil, &sfs); err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SHOPFLOOR\tCAPACITY\tLOAD\tFREE")
	for _, sf := range sfs {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", sf.ID, sf.Capacity, sf.CurrentLoad, sf.Free())
	}
	return w.Flush()
}

func runCapacitySet(cmd *cobra.Command, args []string) error {
	capacity, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("capacity must be an integer: %w", err)
	}
	req := api.SetCapacityRequest{Shopfloor: args[0], Capacity: &capacity}
	if err := newClient().do(cmd.Context(), http.MethodPost, "/capacities", req, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s capacity set to %d\n", args[0], capacity)
	return nil
}
