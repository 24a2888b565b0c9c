// Command examctl takes an exam from the terminal. Suspending the process
// (Ctrl+Z) is reported as an integrity violation, the terminal counterpart
// of leaving the exam tab.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/stemsi/exstem-exam/internal/client"
	"github.com/stemsi/exstem-exam/internal/logger"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/session"
)

func main() {
	server := flag.String("server", envOr("EXSTEM_SERVER", "http://localhost:8080"), "API base URL")
	email := flag.String("email", os.Getenv("EXSTEM_EMAIL"), "Account email")
	examFlag := flag.String("exam", "", "Exam ID (prompted from the lobby when empty)")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	log := logger.New(os.Stderr, *logLevel, "pretty")
	in := bufio.NewReader(os.Stdin)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ─── Login ─────────────────────────────────────────────────────────
	if *email == "" {
		*email = prompt(in, "Email: ")
	}
	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fail("reading password: %v", err)
	}

	api := client.New(*server, nil)
	api.SetDeviceInfo(fmt.Sprintf("examctl (%s/%s)", runtime.GOOS, runtime.GOARCH))
	login, err := api.Login(ctx, *email, string(pw))
	if err != nil {
		fail("login failed: %v", err)
	}
	fmt.Printf("Signed in as %s (%s)\n\n", login.User.Name, login.User.Role)

	// ─── Pick an exam ──────────────────────────────────────────────────
	examID, err := pickExam(ctx, api, in, *examFlag)
	if err != nil {
		fail("%v", err)
	}

	// ─── Run the attempt ───────────────────────────────────────────────
	r := &renderer{}
	runner := session.NewRunner(api, examID,
		session.WithObserver(r.render),
		session.WithLogger(log),
	)

	suspend := make(chan os.Signal, 1)
	signal.Notify(suspend, syscall.SIGTSTP)
	defer signal.Stop(suspend)
	go func() {
		for range suspend {
			fmt.Println("\n! Suspending the exam is recorded as a violation.")
			runner.Violation(model.ViolationVisibilityHidden)
		}
	}()

	go readCommands(in, runner)

	result, err := runner.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Println("\nAttempt left open. Run examctl again to resume before the timer runs out.")
		os.Exit(130)
	case err != nil:
		fail("could not start attempt: %v", err)
	}

	fmt.Printf("\nScore: %d/%d (%.2f%%) %s\n", result.Score, result.TotalMarks, result.Percentage, passLabel(result.Passed))
}

func pickExam(ctx context.Context, api *client.Client, in *bufio.Reader, flagValue string) (uuid.UUID, error) {
	if flagValue != "" {
		return uuid.Parse(flagValue)
	}
	exams, err := api.ListExams(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("loading exams: %w", err)
	}
	var open []model.LobbyExam
	for _, e := range exams {
		if !e.Upcoming && (e.AttemptsRemaining > 0 || e.ActiveAttemptID != nil) {
			open = append(open, e)
		}
	}
	if len(open) == 0 {
		return uuid.Nil, errors.New("no exams are open for you right now")
	}
	for i, e := range open {
		resume := ""
		if e.ActiveAttemptID != nil {
			resume = " [resume]"
		}
		fmt.Printf("  %d) %s (%s, %d min, %d attempt(s) left)%s\n", i+1, e.Title, e.Subject, e.DurationMinutes, e.AttemptsRemaining, resume)
	}
	n, err := strconv.Atoi(prompt(in, "Exam number: "))
	if err != nil || n < 1 || n > len(open) {
		return uuid.Nil, errors.New("invalid choice")
	}
	return open[n-1].ID, nil
}

const help = `commands: <n> select option n | c clear | > next | < previous | g <n> go to question
          s submit | y confirm | x cancel | r retry submit | ? help`

// readCommands feeds stdin lines to the runner until stdin closes.
func readCommands(in *bufio.Reader, runner *session.Runner) {
	for {
		line, err := in.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch cmd := fields[0]; cmd {
		case ">", "n":
			runner.Next()
		case "<", "p":
			runner.Prev()
		case "g":
			if len(fields) > 1 {
				if n, err := strconv.Atoi(fields[1]); err == nil {
					runner.Jump(n - 1)
				}
			}
		case "c":
			runner.Clear()
		case "s":
			runner.RequestSubmit()
		case "y":
			runner.ConfirmSubmit()
		case "x":
			runner.CancelSubmit()
		case "r":
			runner.Retry()
		case "?", "h":
			fmt.Println(help)
		default:
			if n, err := strconv.Atoi(cmd); err == nil {
				runner.Select(n - 1)
				continue
			}
			fmt.Println(help)
		}
	}
}

func prompt(in *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func passLabel(passed bool) string {
	if passed {
		return "PASSED"
	}
	return "NOT PASSED"
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "examctl: "+format+"\n", args...)
	os.Exit(1)
}
