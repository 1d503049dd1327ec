package main

import (
	"fmt"
	"os"

	"github.com/Ning0612/sftparchive/internal/cli"
	"github.com/Ning0612/sftparchive/internal/logger"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}

	logger.Shutdown()
	os.Exit(cli.GetExitCode(err))
}
