package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/devrev/pairdb/logunit/internal/client"
	"github.com/devrev/pairdb/logunit/internal/model"
	"github.com/spf13/cobra"
)

func addRPCFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("addr", "a", "localhost:50053", "Log unit gRPC address")
	cmd.Flags().Duration("timeout", 5*time.Second, "RPC timeout")
}

func dial(cmd *cobra.Command) (*client.LogUnitClient, time.Duration, error) {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	c, err := client.NewLogUnitClient(addr, cliLogger())
	return c, timeout, err
}

func Read(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <address>...",
		Short: "Read addresses from a running log unit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addresses, err := parseAddresses(args)
			if err != nil {
				return err
			}
			c, timeout, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results, err := c.ReadRange(ctx, addresses)
			if err != nil {
				return err
			}
			for _, r := range results {
				printResult(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
	addRPCFlags(cmd)
	return cmd
}

func Trim(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trim <address>...",
		Short: "Trim addresses on a running log unit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addresses, err := parseAddresses(args)
			if err != nil {
				return err
			}
			c, timeout, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			for _, address := range addresses {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				err := c.Trim(ctx, address)
				cancel()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "trimmed %d\n", address)
			}
			return nil
		},
	}
	addRPCFlags(cmd)
	return cmd
}

func parseAddresses(args []string) ([]uint64, error) {
	out := make([]uint64, 0, len(args))
	for _, arg := range args {
		address, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", arg, err)
		}
		out = append(out, address)
	}
	return out, nil
}

func printResult(out io.Writer, r *model.ReadResult) {
	if r.Entry == nil {
		fmt.Fprintf(out, "%d\t%s\n", r.Address, r.DataType)
		return
	}
	fmt.Fprintf(out, "%d\t%s\trank=%s\tstreams=%d\t%q\n",
		r.Address, r.DataType, formatRank(r.Entry.Rank), len(r.Entry.Streams), r.Entry.Payload)
}
