/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/snapmeta/internal/snapcast"
)

var statusTimeout time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Snapcast streams and which zones listen to them",
	RunE:  runStatus,
}

var volumeCmd = &cobra.Command{
	Use:   "volume <client> <percent>",
	Short: "Set the volume of a Snapcast client",
	Long: `Set the volume of a Snapcast client.

The client may be given by id, host name, configured name or any
substring of those, the same way display clients subscribe.

Examples:
  snapmeta volume kitchen 40
  snapmeta volume snapvideo 0
`,
	Args: cobra.ExactArgs(2),
	RunE: runVolume,
}

func init() {
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "Snapserver request timeout")
	volumeCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "Snapserver request timeout")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(volumeCmd)
}

func snapcastClient() *snapcast.RPCClient {
	return snapcast.NewClient(cfg.SnapserverHost, cfg.SnapserverPort, snapcast.Options{}, logger)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	client := snapcastClient()
	defer client.Close()

	srv, err := client.GetServerStatus(ctx)
	if err != nil {
		return fmt.Errorf("query snapserver %s: %w", client.Addr(), err)
	}
	return printStatus(os.Stdout, srv)
}

func printStatus(out io.Writer, srv *snapcast.Server) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STREAM\tSTATUS\tTITLE\tARTIST")
	for _, st := range srv.Streams {
		md := st.Properties.Metadata
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.ID, st.Status, orDash(md.Title), orDash(md.Artist.String()))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "CLIENT\tHOST\tSTREAM\tVOLUME")
	for _, g := range srv.Groups {
		for _, c := range g.Clients {
			vol := strconv.Itoa(c.Config.Volume.Percent) + "%"
			if c.Config.Volume.Muted {
				vol += " (muted)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, orDash(c.Host.Name), g.StreamID, vol)
		}
	}
	return w.Flush()
}

func runVolume(cmd *cobra.Command, args []string) error {
	percent, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid percent %q: %w", args[1], err)
	}
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	client := snapcastClient()
	defer client.Close()

	if err := client.SetClientVolume(ctx, args[0], percent); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	fmt.Printf("Volume of %s set to %d%%\n", args[0], max(0, min(100, percent)))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
