package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shardwave/shardwave/pkg/hashring"
	"github.com/shardwave/shardwave/pkg/kvstore"
	"github.com/shardwave/shardwave/pkg/log"
	"github.com/shardwave/shardwave/pkg/model"
	"github.com/shardwave/shardwave/pkg/reshard"
	"github.com/shardwave/shardwave/pkg/segment"
	"github.com/shardwave/shardwave/pkg/shard"
)

var (
	reshardConfigFile string
	reshardPointsFile string
)

var reshardCmd = &cobra.Command{
	Use:   "reshard",
	Short: "Load a single-shard collection, add a shard, and drive a resharding step",
	Long: `A single-process demonstration of the resharding driver: builds a
one-shard collection, loads points into it, adds a second shard and puts
the ring into dual-ring mode, then runs the three-stage resharding task
to migrate the points the new shard now owns and prints the collection's
total point count before and after.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := model.LoadCollectionConfigYAML(reshardConfigFile)
		if err != nil {
			return err
		}
		points, err := loadPoints(reshardPointsFile)
		if err != nil {
			return err
		}

		col := buildCollection(cfg, 1)
		ctx := context.Background()
		if err := col.Upsert(ctx, 1, points); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}

		donor := hashring.ShardID(0)
		target := hashring.ShardID(1)
		sh := shard.New(cfg.Name, uint32(target), *cfg)
		seg := segment.New(uint64(target), *cfg, kvstore.NewMemStore())
		sh.AddSegment(seg)
		col.AddReshardingShard(target, sh)

		before, _ := col.Count(nil, true, "")
		log.Logger.Info().Int("shard_0", before).Msg("before resharding")

		var succeeded bool
		finished := col.StartReshard(ctx, reshard.Key{PeerID: 1, ShardID: target}, donor, 2,
			func() { succeeded = true },
			func() { succeeded = false },
		)
		if !finished {
			return fmt.Errorf("resharding did not run to completion")
		}

		after, _ := col.Count(nil, true, "")
		fmt.Printf("resharding finished=%v total_points_before=%d total_points_after=%d\n", succeeded, before, after)
		return nil
	},
}

func init() {
	reshardCmd.Flags().StringVarP(&reshardConfigFile, "config", "c", "", "path to the collection manifest YAML")
	reshardCmd.Flags().StringVarP(&reshardPointsFile, "points", "p", "", "path to the points JSON file")
	reshardCmd.MarkFlagRequired("config")
	reshardCmd.MarkFlagRequired("points")
	rootCmd.AddCommand(reshardCmd)
}
