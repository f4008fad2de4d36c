package main

import (
	"context"
	"fmt"
	"os"

	"github.com/searchktools/fileserver/app"
	"github.com/searchktools/fileserver/config"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fileserver: %v\n", err)
		os.Exit(2)
	}

	application, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fileserver: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		application.Logger().Error("server failed", "err", err)
		os.Exit(1)
	}
}
