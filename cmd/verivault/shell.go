package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"verivault/core/internal/app"
	"verivault/core/internal/biometric/domain"
	"verivault/core/internal/challenge"
)

const help = `commands:
  signup <email> <password>     create an account
  login <email> <password>      password sign-in (clears any biometric lockout)
  enroll [factor]               set up biometric sign-in for the signed-in account
  auth [email] [factor]         biometric sign-in
  disable [factor]              turn off one factor, or all when omitted
  status                        show capability and enablement
  health                        check backing services
  help, quit`

type accountCreator interface {
	CreateAccount(ctx context.Context, email, password string) (string, error)
}

type shell struct {
	app   *app.App
	lines <-chan string
	out   io.Writer
	// factor is used when a command names none.
	factor domain.FactorType
}

func newShell(lines <-chan string, out io.Writer, factor domain.FactorType) *shell {
	return &shell{lines: lines, out: out, factor: factor}
}

// confirm is the consent stand-in for the platform biometric prompt.
func (s *shell) confirm(ctx context.Context, p challenge.Prompt) (bool, error) {
	fmt.Fprintf(s.out, "%s [y/N] ", p.Title)
	select {
	case <-ctx.Done():
		fmt.Fprintln(s.out)
		return false, ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			return false, io.EOF
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

func (s *shell) run(ctx context.Context) {
	fmt.Fprintln(s.out, "verivault shell; type help for commands")
	for {
		fmt.Fprint(s.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return
		case l, ok := <-s.lines:
			if !ok {
				return
			}
			line = l
		}
		if quit := s.exec(ctx, strings.Fields(line)); quit {
			return
		}
	}
}

func (s *shell) exec(ctx context.Context, args []string) (quit bool) {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "help":
		fmt.Fprintln(s.out, help)
	case "quit", "exit":
		return true
	case "signup":
		if len(args) != 3 {
			fmt.Fprintln(s.out, "usage: signup <email> <password>")
			return false
		}
		creator, ok := s.app.Bridge.(accountCreator)
		if !ok {
			fmt.Fprintln(s.out, "this account store does not support sign-up")
			return false
		}
		id, err := creator.CreateAccount(ctx, args[1], args[2])
		if err != nil {
			fmt.Fprintln(s.out, "signup failed:", err)
			return false
		}
		fmt.Fprintln(s.out, "created account", id)
	case "login":
		if len(args) != 3 {
			fmt.Fprintln(s.out, "usage: login <email> <password>")
			return false
		}
		sess, err := s.app.Authenticator.SignInWithPassword(ctx, args[1], args[2])
		if err != nil {
			fmt.Fprintln(s.out, "sign-in failed:", err)
			return false
		}
		fmt.Fprintf(s.out, "signed in as %s (session %s)\n", sess.OwnerID, sess.ID)
	case "enroll":
		factor, ok := s.factorArg(args, 1)
		if !ok {
			return false
		}
		s.printResult(s.app.Enrollment.Enroll(ctx, "", factor, nil))
	case "auth":
		owner := ""
		rest := args[1:]
		if len(rest) > 0 && strings.Contains(rest[0], "@") {
			owner, rest = rest[0], rest[1:]
		}
		factor, ok := s.factorArg(append([]string{"auth"}, rest...), 1)
		if !ok {
			return false
		}
		res := s.app.Authenticator.Authenticate(ctx, owner, factor, func(st domain.AuthState) {
			fmt.Fprintln(s.out, "  ..", st)
		})
		s.printResult(res)
	case "disable":
		factor := domain.FactorNone
		if len(args) > 1 {
			f, ok := s.factorArg(args, 1)
			if !ok {
				return false
			}
			factor = f
		}
		s.printResult(s.app.Enrollment.Disable(ctx, "", factor))
	case "status":
		st, err := s.app.Enrollment.Status(ctx, "")
		if err != nil {
			fmt.Fprintln(s.out, "status:", err)
			return false
		}
		fmt.Fprintf(s.out, "capability: available=%t factor=%s\n", st.Capability.Available, st.Capability.FactorType)
		fmt.Fprintf(s.out, "enabled: fingerprint=%t face=%t overall=%t failures=%d\n",
			st.Record.FingerprintEnabled, st.Record.FaceEnabled, st.Record.BiometricEnabled, st.Record.FailureCount)
		fmt.Fprintf(s.out, "stored: %t %v (backend %s)\n", st.Stored, st.StoredFactors, st.Backend)
		if st.LockedOut && st.LockedUntil != nil {
			fmt.Fprintf(s.out, "locked until %s\n", st.LockedUntil.Local().Format(time.Kitchen))
		}
	case "health":
		rep, err := s.app.Health.Check(ctx)
		fmt.Fprintln(s.out, "status:", rep.Status)
		for name, msg := range rep.Components {
			if msg == "" {
				msg = "ok"
			}
			fmt.Fprintf(s.out, "  %s: %s\n", name, msg)
		}
		if err != nil {
			fmt.Fprintln(s.out, "health:", err)
		}
	default:
		fmt.Fprintf(s.out, "unknown command %q; type help\n", args[0])
	}
	return false
}

// factorArg parses args[i] as a factor, defaulting to the shell's factor.
func (s *shell) factorArg(args []string, i int) (domain.FactorType, bool) {
	if len(args) <= i {
		return s.factor, true
	}
	f, err := domain.ParseFactorType(args[i])
	if err != nil {
		fmt.Fprintln(s.out, err)
		return "", false
	}
	return f, true
}

func (s *shell) printResult(res domain.Result) {
	if res.Success {
		fmt.Fprintln(s.out, "ok:", res.Message)
		if res.Session != nil {
			fmt.Fprintf(s.out, "session %s for %s\n", res.Session.ID, res.Session.OwnerID)
		}
		return
	}
	fmt.Fprintf(s.out, "failed (%s): %s\n", res.Reason, res.Message)
	if res.RemainingAttempts > 0 {
		fmt.Fprintf(s.out, "%d attempt(s) left\n", res.RemainingAttempts)
	}
	if res.LockedUntil != nil {
		fmt.Fprintf(s.out, "locked until %s\n", res.LockedUntil.Local().Format(time.Kitchen))
	}
}
