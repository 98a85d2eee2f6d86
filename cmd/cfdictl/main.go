package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/cfdilab/cfdilab/cmd/cfdictl/cli"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
