// Command omnireeld runs the omnireel daemon. It is equivalent to
// 'omnireel daemon' and exists for service managers that expect a
// dedicated binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"omnireel/internal/config"
	"omnireel/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	logLevel := flag.String("log-level", "", "Override logging.level")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
