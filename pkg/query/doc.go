// Package query executes a PlannedQuery (spec.md §4.5): a flat batch of
// searches and scrolls addressable by index, merged up through a tree of
// MergePlans via Reciprocal Rank Fusion, order-by, or vector rescore, with
// payload/vector fill deferred until the final top-limit is known.
//
// A SearchRequest's Kind selects spec.md §6's vector-objective Query
// variants (Nearest/Recommend/Discover/Context); Fusion and OrderBy are
// ScoringQuery's rescore-stage concern instead. AverageVectorRecommend
// compiles Recommend's positive/negative examples into a single target
// vector the same way a Nearest request is built.
package query
