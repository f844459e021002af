package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/mes/api"
	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/production"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Create and inspect production orders",
}

var orderCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an order and print its distribution",
	RunE:  runOrderCreate,
}

var orderLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List orders, newest first",
	RunE:  runOrderLs,
}

var orderGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show an order with its sub-orders",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrderGet,
}

func init() {
	orderCreateCmd.Flags().StringP("description", "d", "", "order description")
	orderCreateCmd.Flags().IntP("quantity", "q", 0, "number of units")
	orderCreateCmd.Flags().StringP("material", "m", "", "material")
	orderCmd.AddCommand(orderCreateCmd, orderLsCmd, orderGetCmd)
	rootCmd.AddCommand(orderCmd)
}

func runOrderCreate(cmd *cobra.Command, _ []string) error {
	var req api.CreateOrderRequest
	req.Description, _ = cmd.Flags().GetString("description")
	req.Quantity, _ = cmd.Flags().GetInt("quantity")
	req.Material, _ = cmd.Flags().GetString("material")

	var res api.CreateOrderResponse
	if err := newClient().do(cmd.Context(), http.MethodPost, "/orders", req, &res); err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "order\t%s\n", res.OrderID)
	names := make([]string, 0, len(res.Distribution))
	for sf := range res.Distribution {
		names = append(names, sf)
	}
	sort.Strings(names)
	for _, sf := range names {
		fmt.Fprintf(w, "%s\t%d\n", sf, res.Distribution[sf])
	}
	return w.Flush()
}

func runOrderLs(cmd *cobra.Command, _ []string) error {
	var orders []model.Order
	if err := newClient().do(cmd.Context(), http.MethodGet, "/orders", nil, &orders); err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tQUANTITY\tMATERIAL\tDESCRIPTION")
	for _, o := range orders {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", o.ID, o.Status, o.Quantity, o.Material, o.Description)
	}
	return w.Flush()
}

func runOrderGet(cmd *cobra.Command, args []string) error {
	var detail production.OrderDetail
	if err := newClient().do(cmd.Context(), http.MethodGet, "/orders/"+url.PathEscape(args[0]), nil, &detail); err != nil {
		return err
	}
	return printJSON(cmd, detail)
}
