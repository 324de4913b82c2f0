package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the tenant's document index",
	}
	cmd.AddCommand(newIndexAddCmd())
	cmd.AddCommand(newIndexRemoveCmd())
	return cmd
}

func newIndexAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>...",
		Short: "Chunk, embed and store plain-text files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant := viper.GetString("tenant")
			if tenant == "" {
				return errors.New("--tenant is required")
			}
			rt, err := buildRuntime(false)
			if err != nil {
				return err
			}
			indexer, err := buildIndexer(rt)
			if err != nil {
				return err
			}
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return errors.Wrapf(err, "read %s", path)
				}
				res, err := indexer.IndexText(cmd.Context(), tenant, filepath.Base(path), string(data))
				if err != nil {
					return errors.Wrapf(err, "index %s", path)
				}
				fmt.Printf("%s: %d chunks (document %s)\n", path, res.Chunks, res.DocumentID)
			}
			return nil
		},
	}
}

func newIndexRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <document-id>...",
		Short: "Remove previously indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant := viper.GetString("tenant")
			if tenant == "" {
				return errors.New("--tenant is required")
			}
			rt, err := buildRuntime(false)
			if err != nil {
				return err
			}
			indexer, err := buildIndexer(rt)
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := indexer.DeleteDocument(cmd.Context(), tenant, id); err != nil {
					return err
				}
				fmt.Printf("removed document %s\n", id)
			}
			return nil
		},
	}
}
