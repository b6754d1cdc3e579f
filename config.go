package rankstep

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	log "github.com/sirupsen/logrus"
)

// Command line flags understood by Driver.Main. Flags are bound into the
// configuration, so each can also be set in a config file or as a
// RANKSTEP_ prefixed environment variable.
func init() {
	pflag.Bool("lambda", false, "Run map and reduce tasks on AWS Lambda")
	pflag.StringP("out", "o", "", "Output directory (can be local or in S3)")
	pflag.String("memprofile", "", "Write memory profile to `file`")
	pflag.BoolP("verbose", "v", false, "Output verbose logs")
	pflag.Bool("cleanup", false, "Delete shuffle files once the job finishes")
	pflag.Bool("undeploy", false, "Delete the Lambda function and its managed role once the job finishes")
}

// LoadConfig loads settings from rankstepconfig files, the environment and
// command line flags. Call it after flags are parsed to read settings
// before a Driver exists.
func LoadConfig() {
	viper.SetConfigName("rankstepconfig")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.rankstep")

	setupDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warnf("Could not read config file: %s", err)
		}
	}

	viper.SetEnvPrefix("rankstep")
	viper.AutomaticEnv()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		log.Warnf("Could not bind flags: %s", err)
	}
}

func setupDefaults() {
	defaultSettings := map[string]interface{}{
		"lambda_function_name": "rankstep_function",
		"lambda_memory":        1500,
		"lambda_timeout":       180,
		"lambda_manage_role":   true,
		"lambda_role_arn":      "",
		"lambda":               false,
		"cleanup":              false,
		"undeploy":             false,
		"verbose":              false,
		"split_size":           100 * 1024 * 1024, // Default input split size is 100Mb
		"map_bin_size":         512 * 1024 * 1024, // Default map bin size is 512Mb
		"reduce_bin_size":      512 * 1024 * 1024, // Default reduce bin size is 512Mb
		"max_concurrency":      500,               // Maximum number of concurrent executors
		"working_location":     ".",
	}
	for key, value := range defaultSettings {
		viper.SetDefault(key, value)
	}
}
