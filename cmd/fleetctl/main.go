// Copyright 2024 The FleetFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command fleetctl is the FleetFS command-line client: upload,
// download, delete, list, status, and info, speaking the same master/node
// protocol as pkg/client over a user-supplied master address.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fleetfs.dev/fleetfs/pkg/client"
)

var masterAddr string

func main() {
	root := &cobra.Command{
		Use:   "fleetctl",
		Short: "Command-line client for a FleetFS cluster",
	}
	root.PersistentFlags().StringVar(&masterAddr, "master", "127.0.0.1:5000", "master's data-plane address")

	root.AddCommand(
		listCmd(),
		statusCmd(),
		uploadCmd(),
		downloadCmd(),
		deleteCmd(),
		infoCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every filename known to the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(masterAddr)
			files, err := c.ListFiles(cmd.Context())
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Println(f)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every storage node and its liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(masterAddr)
			nodes, err := c.GetNodesStatus(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range nodes {
				fmt.Printf("%s\t%s\t%s\n", n.ID, n.Address, n.Status)
			}
			return nil
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <filename>",
		Short: "Show replica placement for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(masterAddr)
			replicas, err := c.GetFileInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, r := range replicas {
				alive := "dead"
				if r.Alive {
					alive = "alive"
				}
				fmt.Printf("%s\t%s\t%s\n", r.NodeID, r.Address, alive)
			}
			return nil
		},
	}
}

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a local file, replacing any file of the same basename",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(masterAddr)
			return c.Upload(cmd.Context(), args[0])
		},
	}
}

func downloadCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download <filename>",
		Short: "Download a file by basename",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(masterAddr)
			return c.Download(cmd.Context(), args[0], out)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "destination path; defaults to the basename")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <filename>",
		Short: "Delete a file from every replica",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(masterAddr)
			return c.Delete(cmd.Context(), args[0])
		},
	}
}
