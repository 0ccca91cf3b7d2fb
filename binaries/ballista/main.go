package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/ballista-dev/ballista/cli"
	"github.com/ballista-dev/ballista/common/errors"
	"github.com/ballista-dev/ballista/common/log/hooks"
)

// CLI binary for ballista load testing.
//	Supported commands: (see "-h" for all options)
//		load [target url or sitemap]
//		stress [target url or sitemap]
//		api [suite file]
//		serve
//	Global flags:
//		--log_level [<error|info|debug> level and above should be logged]

func main() {
	log.AddHook(hooks.NewContextHook())

	cl, err := cli.NewSimpleCLIClient()
	if err != nil {
		log.Fatal("Failed to create ballista CLI client: ", err)
	}

	if err = cl.Exec(); err != nil {
		log.Error(err)
		if ec, ok := err.(*errors.ExitCodeError); ok {
			os.Exit(int(ec.GetExitCode()))
		}
		os.Exit(1)
	}
}
