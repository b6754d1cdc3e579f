// Command unitmul runs one unit multiplication step of PageRank: every
// page's rank is spread along its links, damped by beta.
//
//	unitmul -t transitions/ -r ranks.txt -o out/ --beta 0.15
//
// Each output line is "destination\tamount"; the amounts of one destination
// are summed by the next step of the iteration.
package main

import (
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"

	log "github.com/sirupsen/logrus"

	"github.com/rankstep/rankstep"
	"github.com/rankstep/rankstep/pagerank"
)

// configuredBeta reads beta from flags, the environment (RANKSTEP_BETA) and
// config files, falling back to pagerank.DefaultBeta
func configuredBeta() float64 {
	rankstep.LoadConfig()
	viper.SetDefault("beta", pagerank.DefaultBeta)
	return viper.GetFloat64("beta")
}

// newJob validates beta and wires transitions and ranks, in that order, to
// their mappers. Lambda workers rebuild the same job, so the order matters.
func newJob(beta float64, transitions, ranks []string) (*rankstep.Job, error) {
	multiplier, err := pagerank.NewMultiplier(beta)
	if err != nil {
		return nil, xerrors.Errorf("configure step: %w", err)
	}

	return rankstep.NewJob(multiplier,
		rankstep.Input(pagerank.TransitionMapper{}, transitions...),
		rankstep.Input(pagerank.RankMapper{}, ranks...),
	), nil
}

func main() {
	// Variables already set in the environment take precedence
	_ = godotenv.Load()

	transitions := pflag.StringSliceP("transitions", "t", nil, "Transition matrix rows, \"source\\tdest1,dest2\" (files, directories or globs)")
	ranks := pflag.StringSliceP("ranks", "r", nil, "Rank vector entries, \"page\\trank\" (files, directories or globs)")
	pflag.Float64("beta", pagerank.DefaultBeta, "Teleport probability, strictly between 0 and 1")
	pflag.Parse()

	beta := configuredBeta()
	job, err := newJob(beta, *transitions, *ranks)
	if err != nil {
		log.Fatal(err)
	}
	log.Debugf("Using beta %v", beta)

	// Lambda workers rebuild the job from their environment
	driver := rankstep.NewDriver(job,
		rankstep.WithLambdaEnvironment("RANKSTEP_BETA", strconv.FormatFloat(beta, 'g', -1, 64)),
	)
	driver.Main()
}
