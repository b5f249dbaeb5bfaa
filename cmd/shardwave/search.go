package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shardwave/shardwave/pkg/log"
	"github.com/shardwave/shardwave/pkg/model"
	"github.com/shardwave/shardwave/pkg/query"
)

var (
	searchConfigFile string
	searchPointsFile string
	searchQueryFile  string
	searchShards     uint32
)

// queryFile is the on-disk shape of a single search request for the
// demo `search` command.
type queryFile struct {
	VectorName string    `json:"vector_name"`
	Query      []float32 `json:"query"`
	Top        int       `json:"top"`
	Ef         int       `json:"ef"`
	WithPayload bool     `json:"with_payload"`
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Build an in-memory collection, load points, and run one search",
	Long: `A single-process demonstration of the write and query path: loads a
collection manifest and a point set, upserts every point into a fresh
in-memory collection, then executes one vector search against it and
prints the ranked results. Intended for local development, not as a
persistent server (see DESIGN.md on segment persistence).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := model.LoadCollectionConfigYAML(searchConfigFile)
		if err != nil {
			return err
		}
		points, err := loadPoints(searchPointsFile)
		if err != nil {
			return err
		}
		var qf queryFile
		data, err := os.ReadFile(searchQueryFile)
		if err != nil {
			return fmt.Errorf("read query file: %w", err)
		}
		if err := json.Unmarshal(data, &qf); err != nil {
			return fmt.Errorf("parse query file: %w", err)
		}

		col := buildCollection(cfg, searchShards)
		ctx := context.Background()
		if err := col.Upsert(ctx, 1, points); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		log.Logger.Info().Int("points", len(points)).Str("collection", cfg.Name).Msg("loaded points")

		// This demo never writes again after the initial load, so seal
		// every shard's segments now: field indices switch over to their
		// immutable compressed form, the query path a sealed segment takes
		// (spec.md §4.1, §4.3).
		if err := col.Seal(); err != nil {
			return fmt.Errorf("seal: %w", err)
		}

		top := qf.Top
		if top == 0 {
			top = 10
		}
		ef := qf.Ef
		if ef == 0 {
			ef = cfg.Hnsw.Ef
		}
		pq := query.PlannedQuery{
			Searches: []query.SearchRequest{{
				VectorName:  model.VectorName(qf.VectorName),
				Query:       model.DenseVector(qf.Query),
				Top:         top,
				Ef:          ef,
				WithPayload: qf.WithPayload,
			}},
			RootPlans: []query.MergePlan{{
				Sources: []query.Source{{Kind: query.SourceSearchIdx, Idx: 0}},
			}},
		}
		resp, err := col.Query(ctx, pq, 5*time.Second, "")
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		if len(resp) == 0 || len(resp[0]) == 0 {
			fmt.Println("no results")
			return nil
		}
		for rank, sp := range resp[0][0] {
			fmt.Printf("%3d. id=%s score=%.4f payload=%v\n", rank+1, sp.ID, sp.Score, sp.Payload)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchConfigFile, "config", "c", "", "path to the collection manifest YAML")
	searchCmd.Flags().StringVarP(&searchPointsFile, "points", "p", "", "path to the points JSON file")
	searchCmd.Flags().StringVarP(&searchQueryFile, "query", "q", "", "path to the query JSON file")
	searchCmd.Flags().Uint32Var(&searchShards, "shards", 1, "number of local shards to build")
	searchCmd.MarkFlagRequired("config")
	searchCmd.MarkFlagRequired("points")
	searchCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(searchCmd)
}
