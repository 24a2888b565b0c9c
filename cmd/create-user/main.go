package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/database"
	"github.com/stemsi/exstem-exam/internal/logger"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/repository"
	"github.com/stemsi/exstem-exam/internal/service"
	"golang.org/x/term"
)

func main() {
	roleFlag := flag.String("role", "TEACHER", "Role of the new account: STUDENT, TEACHER or ADMIN")
	promote := flag.Bool("promote", false, "If the email already exists, change its role instead of failing")
	flag.Parse()

	role := model.Role(strings.ToUpper(*roleFlag))
	if !role.Valid() {
		fmt.Printf("Error: unknown role %q\n", *roleFlag)
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Initialize Service ────────────────────────────────────────────
	userRepo := repository.NewUserRepository(pool)
	authService := service.NewAuthService(userRepo, cfg, nil, log)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Printf("=== Create New %s Account ===\n", role)

	fmt.Print("Enter Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		fmt.Println("Error: Name must be at least 2 characters")
		return
	}

	fmt.Print("Enter Email: ")
	email, _ := reader.ReadString('\n')
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		fmt.Println("Error: a valid email is required")
		return
	}

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Newline after password input
	if err != nil {
		fmt.Println("Error reading password")
		return
	}
	password := string(bytePassword)
	if len(password) < 6 {
		fmt.Println("Error: Password must be at least 6 characters")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	user, err := authService.CreateUser(ctx, email, name, password, role)
	switch {
	case errors.Is(err, service.ErrEmailTaken) && *promote:
		existing, err := userRepo.GetByEmail(ctx, email)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load existing user")
		}
		if err := userRepo.UpdateRole(ctx, existing.ID, role); err != nil {
			log.Fatal().Err(err).Msg("Failed to update role")
		}
		fmt.Printf("\nUpdated! '%s' (%s) is now %s (ID %d)\n", existing.Name, existing.Email, role, existing.ID)
		return
	case errors.Is(err, service.ErrEmailTaken):
		fmt.Println("\nError: email already registered (use -promote to change its role)")
		os.Exit(1)
	case err != nil:
		log.Fatal().Err(err).Msg("Failed to create user")
	}

	fmt.Printf("\nSuccess! %s '%s' (%s) created with ID: %d\n", user.Role, user.Name, user.Email, user.ID)
}
