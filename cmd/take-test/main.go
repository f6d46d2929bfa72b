package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/stemsi/exstem-cbt/internal/client"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/logger"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/session"
	"golang.org/x/term"
)

func main() {
	var (
		testID   int
		username string
	)
	flag.IntVar(&testID, "test", 0, "ID of the test to take (omit to list available tests)")
	flag.StringVar(&username, "user", "", "Username to log in with")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.LoadClient()

	// ─── Initialize Logger ─────────────────────────────────────────────
	// stdout belongs to the exam screen.
	log := logger.SetupWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds := client.NewCredentials()
	api := client.New(cfg, creds, log)
	in := bufio.NewReader(os.Stdin)

	// ─── Login ─────────────────────────────────────────────────────────
	if username == "" {
		username = readLine(in, "Username: ")
	}
	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read password")
	}
	user, err := api.Login(ctx, username, string(password))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Login failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		if err := api.Logout(logoutCtx); err != nil {
			log.Debug().Err(err).Msg("Logout failed")
		}
	}()
	fmt.Printf("Welcome, %s.\n\n", user.FullName)

	if testID == 0 {
		if err := listTests(ctx, api); err != nil {
			fmt.Fprintf(os.Stderr, "Could not list tests: %v\n", err)
		}
		return
	}

	// ─── Session ───────────────────────────────────────────────────────
	ctrl := session.NewController(api, testID, session.OptionsFromConfig(cfg, log))
	defer ctrl.Close()

	if err := ctrl.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Could not load the test: %v\n", err)
		os.Exit(1)
	}
	snap := ctrl.Snapshot()
	printIntro(snap.Test, snap.Total)
	if !confirm(in, "Start now? [y/N] ") {
		return
	}
	if err := ctrl.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Could not start the test: %v\n", err)
		os.Exit(1)
	}

	run(ctx, ctrl, in)
}

// run reads commands until the session reaches its terminal state.
func run(ctx context.Context, ctrl *session.Controller, in *bufio.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := in.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimSpace(line)
		}
	}()

	render(ctrl.Snapshot())
	expired := ctrl.Expired()
	for {
		select {
		case <-expired:
			expired = nil
			select {
			case <-ctrl.Terminal():
				// Reported by the Terminal case.
			default:
				printExpired(ctrl.Snapshot())
			}
		case <-ctx.Done():
			fmt.Println("\nInterrupted. Your saved answers stay on the server; run again to resume.")
			return
		case <-ctrl.Terminal():
			printOutcome(ctrl.Snapshot())
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handle(ctx, ctrl, line); quit {
				fmt.Println("Leaving the test. Run again to resume before time runs out.")
				return
			}
			select {
			case <-ctrl.Terminal():
			default:
				render(ctrl.Snapshot())
			}
		}
	}
}

func handle(ctx context.Context, ctrl *session.Controller, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	var err error

	switch strings.ToLower(cmd) {
	case "n", "next":
		err = ctrl.Next(ctx)
	case "p", "prev":
		err = ctrl.Previous(ctx)
	case "j", "jump":
		var n int
		n, err = strconv.Atoi(strings.TrimSpace(arg))
		if err == nil {
			err = ctrl.Jump(ctx, n-1)
		}
	case "o", "option":
		err = selectOption(ctrl, arg)
	case "a", "answer":
		err = ctrl.SetText(arg)
	case "submit":
		fmt.Println("Submitting...")
		err = ctrl.Submit(ctx)
	case "q", "quit":
		return true
	case "", "h", "help":
		printHelp()
	default:
		fmt.Printf("Unknown command %q. Type h for help.\n", cmd)
	}

	if err != nil {
		printErr(err)
	}
	return false
}

func selectOption(ctrl *session.Controller, arg string) error {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return err
	}
	q := ctrl.Snapshot().Question
	if q == nil || n < 1 || n > len(q.Options) {
		return session.ErrUnknownOption
	}
	return ctrl.Select(q.Options[n-1].ID)
}

func printErr(err error) {
	var (
		saveErr   *session.AutosaveError
		submitErr *session.SubmitError
	)
	switch {
	case errors.As(err, &saveErr):
		fmt.Println("! Your answer could not be saved and is not marked as answered.")
	case errors.As(err, &submitErr):
		fmt.Printf("! Submit failed after %d attempt(s). Type submit to try again.\n", submitErr.Attempts)
	case errors.Is(err, session.ErrTimeExpired):
		fmt.Println("! Time is up. Type submit to hand in your test.")
	case errors.Is(err, model.ErrUnauthorized):
		fmt.Println("! Your login expired. Log in again and rerun to resume.")
	default:
		fmt.Printf("! %v\n", err)
	}
}

func listTests(ctx context.Context, api *client.Client) error {
	tests, err := api.ListTests(ctx)
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		fmt.Println("No tests are available right now.")
		return nil
	}
	fmt.Println("Available tests:")
	for _, t := range tests {
		fmt.Printf("  %4d  %-40s %3d min  %d question(s)\n", t.ID, t.Title, t.DurationMinutes, t.QuestionCount)
	}
	fmt.Println("\nRun again with -test <id> to start.")
	return nil
}

func readLine(in *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

func confirm(in *bufio.Reader, label string) bool {
	answer := strings.ToLower(readLine(in, label))
	return answer == "y" || answer == "yes"
}

func formatRemaining(seconds int) string {
	d := time.Duration(seconds) * time.Second
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), seconds%60)
}
