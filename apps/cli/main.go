package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/user"
	apisvc "github.com/chitterchatter/portal/services/api"
	logsvc "github.com/chitterchatter/portal/services/logger"
	filestore "github.com/chitterchatter/portal/storage/tokenstore/file"
)

func main() {
	conf := core.NewConfig()

	zlog, err := logsvc.NewZap(conf.LogLevel, conf.Debug)
	if err != nil {
		log.Fatalf("setting up logger: %v", err)
	}
	logger := logsvc.NewRollbarLogger(zlog.Named("cli"), conf)
	logger.Enable(!conf.Debug)

	store, err := filestore.Open(conf.CLI.TokenFile, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening session file: %v", err), err)
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	cli := newCommandLine(store, apisvc.NewClient(conf.API.BaseURL, store, nil), logger, validate, os.Stdout)
	err = cli.run(os.Args)
	logger.Sync()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
