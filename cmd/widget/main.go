package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/shoshchat-widget/internal/account"
	"github.com/suPer8Hu/shoshchat-widget/internal/app"
	"github.com/suPer8Hu/shoshchat-widget/internal/auth"
	"github.com/suPer8Hu/shoshchat-widget/internal/common"
	"github.com/suPer8Hu/shoshchat-widget/internal/config"
)

const help = `commands:
  /login <user> <pass>  sign in as the dashboard owner
  /logout               drop the local session
  /register <user> <email> <pass> <company>
                        create an owner account and tenant
  /verify <uid> <token> confirm an email address
  /forgot <email>       mail a password reset link
  /reset-password <uid> <token> <new pass>
                        set a new password from a reset link
  /tenant <id>          switch to another tenant's conversation
  /reset                clear this tenant's conversation
  /history              print the conversation
  /embed                print the tenant's embed snippet
  /quit                 exit
anything else is sent as a chat message`

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger := app.NewLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("widget startup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Warn("widget close", "error", err)
		}
	}()

	if cfg.Username != "" && !w.Lifecycle.HasSession(ctx) {
		if _, err := w.Lifecycle.Login(ctx, cfg.Username, cfg.Password); err != nil {
			logger.Warn("auto login failed", "username", cfg.Username, "error", err)
		}
	}
	hydrate(ctx, w)

	logger.Info("widget started", "tenant", cfg.TenantID, "api", cfg.APIBaseURL, "storage", cfg.StorageDriver)
	fmt.Println(help)
	printHistory(os.Stdout, w.Controller.Snapshot())

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		fmt.Printf("[%s]> ", w.Controller.TenantID())
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handle(ctx, w, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func handle(ctx context.Context, w *app.Widget, line string) (quit bool) {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Println(help)
	case "/login":
		user, pass, _ := strings.Cut(strings.TrimSpace(rest), " ")
		if user == "" || pass == "" {
			fmt.Println("usage: /login <user> <pass>")
			return false
		}
		sess, err := w.Lifecycle.Login(ctx, user, pass)
		switch {
		case errors.Is(err, common.ErrInvalidCredentials):
			fmt.Println("login rejected")
		case err != nil:
			fmt.Println("login failed:", err)
		default:
			name := user
			if sess.User != nil && sess.User.Username != "" {
				name = sess.User.Username
			}
			fmt.Println("signed in as", name)
			hydrate(ctx, w)
			printHistory(os.Stdout, w.Controller.Snapshot())
		}
	case "/register", "/verify", "/forgot", "/reset-password":
		accountCommand(ctx, w, cmd, strings.Fields(rest))
	case "/logout":
		w.Lifecycle.Logout(ctx)
		fmt.Println("signed out")
	case "/tenant":
		id := strings.TrimSpace(rest)
		if id == "" {
			fmt.Println("usage: /tenant <id>")
			return false
		}
		w.Controller.SwitchTenant(ctx, id)
		hydrate(ctx, w)
		printHistory(os.Stdout, w.Controller.Snapshot())
	case "/reset":
		w.Controller.ResetConversation(ctx)
		fmt.Println("conversation cleared")
	case "/history":
		printHistory(os.Stdout, w.Controller.Snapshot())
	case "/embed":
		code, err := w.Tenants.EmbedCode(ctx)
		if err != nil {
			fmt.Println("embed code unavailable:", err)
			return false
		}
		fmt.Println(code)
	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Println("unknown command", cmd)
			return false
		}
		_ = w.Controller.SendMessage(ctx, line)
		printLast(os.Stdout, w.Controller.Snapshot())
	}
	return false
}

func hydrate(ctx context.Context, w *app.Widget) {
	// errors are already logged by the controller
	_ = w.Controller.Hydrate(ctx)
}

func accountCommand(ctx context.Context, w *app.Widget, cmd string, args []string) {
	var err error
	switch {
	case cmd == "/register" && len(args) >= 4:
		var user *auth.UserProfile
		user, err = w.Lifecycle.Register(ctx, auth.RegisterRequest{
			Username:        args[0],
			Email:           args[1],
			Password:        args[2],
			PasswordConfirm: args[2],
			CompanyName:     strings.Join(args[3:], " "),
			Industry:        "retail",
		})
		if err == nil {
			fmt.Printf("registered %s, check %s for a verification link\n", user.Username, user.Email)
		}
	case cmd == "/verify" && len(args) == 2:
		if err = w.Accounts.ConfirmEmail(ctx, args[0], args[1]); err == nil {
			fmt.Println("email verified")
		}
	case cmd == "/forgot" && len(args) == 1:
		var msg string
		if msg, err = w.Accounts.RequestPasswordReset(ctx, args[0]); err == nil {
			fmt.Println(msg)
		}
	case cmd == "/reset-password" && len(args) == 3:
		err = w.Accounts.ConfirmPasswordReset(ctx, account.PasswordReset{
			UID: args[0], Token: args[1], NewPassword: args[2], ConfirmPassword: args[2],
		})
		if err == nil {
			fmt.Println("password changed, sign in again")
		}
	default:
		fmt.Println("usage: see /help")
		return
	}
	if err != nil {
		printAccountError(err)
	}
}

func printAccountError(err error) {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if fields := apiErr.FieldErrors(); len(fields) > 0 {
			for field, msgs := range fields {
				fmt.Printf("  %s: %s\n", field, strings.Join(msgs, " "))
			}
			return
		}
	}
	fmt.Println("failed:", err)
}
