/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/snapmeta/internal/artwork"
	"github.com/friendsincode/snapmeta/internal/storage"
	"github.com/friendsincode/snapmeta/internal/version"
)

var versionCheck bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stale metadata snapshots and partial downloads from the artwork directory",
	RunE:  runSweep,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the snapmeta version",
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "Check for a newer release")
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	files, err := storage.NewFilesystem(cfg.ArtworkDir, logger)
	if err != nil {
		return fmt.Errorf("open artwork dir: %w", err)
	}
	removed, err := artwork.NewStore(files, nil, logger).Sweep()
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Printf("Removed %d file(s) from %s\n", removed, files.Root())
	return nil
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Printf("snapmeta %s\n", version.String())
	if !versionCheck {
		return nil
	}

	info, err := version.Check(cmd.Context(), version.DefaultReleasesURL)
	if err != nil {
		return fmt.Errorf("check for updates: %w", err)
	}
	if info.UpdateAvailable {
		fmt.Printf("Update available: %s (%s)\n", info.LatestVersion, info.ReleaseURL)
	} else {
		fmt.Println("Up to date")
	}
	return nil
}
