package main

import (
	"context"
	"os"

	"github.com/jmsrsd/strn-app/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	envFile := os.Getenv("STRN_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := config.LoadEnv(envFile); err != nil {
		logrus.WithError(err).Fatal("load env file")
	}

	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "strn",
		Usage: "Entity-attribute-value store server and CLI",
		Commands: []*cli.Command{
			serverCommand(),
			authCommand(),
			valueCommand(),
			entityCommand(),
			findCommand(),
			recordCommand(),
			dropCommand(),
			domainsCommand(),
			applicationsCommand(),
			accessCommand(),
			auditCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		logrus.Fatal(err)
	}
}
