package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/veilmsg/veil/internal/daemon"
	"github.com/veilmsg/veil/internal/session"
	"go.uber.org/fx"
)

func main() {
	_ = godotenv.Load()

	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	override := *profileFlag
	if override == "" {
		override = os.Getenv("VEIL_PROFILE")
	}

	profile := session.Resolve(override)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := session.EnsureDir(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profile}),
	)

	app.Run()
}
