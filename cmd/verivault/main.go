// verivault is an interactive terminal shell around the biometric core. The terminal stands in for
// the platform prompt: each challenge asks for a y/n confirmation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"verivault/core/internal/app"
	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/capability"
	"verivault/core/internal/config"
)

func main() {
	platform := flag.String("platform", "linux", "Platform family: ios, android, macos, windows, linux or web")
	native := flag.Bool("native", true, "Run as a native build with OS keyring access")
	sensor := flag.String("sensor", "fingerprint", "Biometric sensor to report: fingerprint, face, iris or none")
	webAuthn := flag.Bool("platform-authenticator", false, "Report a user-verifying platform authenticator")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	factor := domain.FactorNone
	if *sensor != string(domain.FactorNone) {
		if factor, err = domain.ParseFactorType(*sensor); err != nil {
			fmt.Fprintln(os.Stderr, "sensor:", err)
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := capability.Environment{Platform: capability.Platform(*platform), Native: *native}
	defaultFactor := factor
	if defaultFactor == domain.FactorNone {
		defaultFactor = capability.DefaultFactor(env.Platform)
	}
	sh := newShell(readLines(os.Stdin), os.Stdout, defaultFactor)

	opts := app.Options{
		Environment: env,
		Confirm:     sh.confirm,
	}
	if *native && factor != domain.FactorNone {
		opts.Sensor = staticSensor{factor: factor}
	}
	if *webAuthn {
		opts.PlatformAuthenticator = staticAuthenticator(true)
	}

	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup:", err)
		os.Exit(1)
	}
	sh.app = a

	sh.run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
	}
}
