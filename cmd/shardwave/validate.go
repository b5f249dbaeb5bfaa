package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shardwave/shardwave/pkg/log"
	"github.com/shardwave/shardwave/pkg/model"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate a collection manifest",
	Long:  `Loads a declarative CollectionConfig YAML manifest and reports whether it is well-formed, the way cmd/warren's apply command validates cluster manifests.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := model.LoadCollectionConfigYAML(validateFile)
		if err != nil {
			return err
		}
		log.Logger.Info().Str("collection", cfg.Name).Msg("manifest is valid")
		fmt.Printf("collection %q: %d named vector(s), shard_count=%d, ring_scale=%d\n",
			cfg.Name, len(cfg.Vectors), cfg.ShardCount, cfg.RingScale)
		for name, vp := range cfg.Vectors {
			fmt.Printf("  vector %q: size=%d distance=%s multivector=%v\n",
				name, vp.Size, vp.Distance, vp.Multivector)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "path to the collection manifest YAML")
	validateCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(validateCmd)
}
