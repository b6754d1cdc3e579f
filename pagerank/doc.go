// Package pagerank implements the unit multiplication step of PageRank's
// power iteration on top of rankstep.
//
// Two inputs feed the step. Transition matrix rows, "source\tdest1,dest2",
// become one edge record per link with weight 1/N. Rank vector entries,
// "page\trank", become one rank record. Both are keyed by page, so the
// shuffle joins every page's links with its rank, and the Multiplier emits
// weight * rank * (1 - beta) for each link as "destination\tamount".
//
// Contributions to one destination are summed by a later aggregation step.
// Pages without links drop their rank mass here.
package pagerank
