// parley-admin is the operator CLI: bootstrap credentials, manage users, and
// inspect usage without going through the HTTP admin API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/parleyhq/parley/pkg/cache"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/store"
)

func main() {
	_ = godotenv.Load()
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit()
	case "create-user":
		err = runCreateUser(os.Args[2:])
	case "list-users":
		err = runListUsers()
	case "token":
		err = runToken(os.Args[2:])
	case "usage":
		err = runUsage(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logrus.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: parley-admin <command> [flags]

commands:
  init         generate admin and JWT signing keys into .env
  create-user  create a user (-id, -plan, -personal-key)
  list-users   list all users
  token        mint a bearer token for a user (-id, -ttl)
  usage        show a user's usage record (-id)`)
}

// runInit writes fresh admin credentials to .env. Existing entries are
// preserved; existing keys are not overwritten.
func runInit() error {
	env, err := godotenv.Read()
	if err != nil {
		env = map[string]string{}
	}

	changed := false
	if env["PARLEY_ADMIN_KEY"] == "" {
		env["PARLEY_ADMIN_KEY"] = "padm_" + uuid.NewString()
		changed = true
	}
	if env["PARLEY_JWT_SIGNING_KEY"] == "" {
		env["PARLEY_JWT_SIGNING_KEY"] = uuid.NewString() + uuid.NewString()
		changed = true
	}

	if !changed {
		logrus.Info(".env already has admin credentials, nothing to do")
		return nil
	}
	if err := godotenv.Write(env, ".env"); err != nil {
		return fmt.Errorf("write .env: %w", err)
	}

	logrus.Info("wrote admin credentials to .env")
	logrus.Infof("admin key: %s", env["PARLEY_ADMIN_KEY"])
	logrus.Info("set auth.admin_key and auth.jwt_signing_key in configs/config.yaml to match")
	return nil
}

func runCreateUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	id := fs.String("id", "", "user id (generated when empty)")
	plan := fs.String("plan", store.PlanFree, "plan: free or pro")
	personalKey := fs.String("personal-key", "", "user's own provider API key")
	fs.Parse(args)

	if *plan != store.PlanFree && *plan != store.PlanPro {
		return fmt.Errorf("unknown plan %q", *plan)
	}
	if *id == "" {
		*id = uuid.NewString()
	}

	users, err := openStore()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := users.GetUser(ctx, *id); err == nil {
		return fmt.Errorf("user %q already exists", *id)
	}

	u := &store.User{
		ID:     *id,
		Plan:   *plan,
		Status: store.StatusActive,
		Settings: store.Settings{
			UsePersonalAPIKey: *personalKey != "",
			PersonalAPIKey:    *personalKey,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := users.PutUser(ctx, u); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	logrus.WithFields(logrus.Fields{"id": u.ID, "plan": u.Plan}).Info("user created")
	return nil
}

func runListUsers() error {
	users, err := openStore()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	all, err := users.ListUsers(ctx)
	if err != nil {
		return err
	}

	for _, u := range all {
		u.Settings.PersonalAPIKey = ""
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(all)
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	id := fs.String("id", "", "user id")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	signingKey := cfg.Auth.JWTSigningKey
	if signingKey == "" {
		signingKey = os.Getenv("PARLEY_JWT_SIGNING_KEY")
	}
	if signingKey == "" {
		return fmt.Errorf("no JWT signing key configured, run: parley-admin init")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   *id,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(*ttl)),
	})
	signed, err := token.SignedString([]byte(signingKey))
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	fmt.Println(signed)
	return nil
}

func runUsage(args []string) error {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	id := fs.String("id", "", "user id")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	users, err := openStore()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u, err := users.GetUser(ctx, *id)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"id":    u.ID,
		"plan":  u.Plan,
		"usage": u.Usage,
	})
}

// openStore connects to the same user backend the server uses.
func openStore() (store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	switch cfg.Storage.Backend {
	case "postgres":
		db, err := store.NewPostgresDB(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return store.NewPostgresStore(db), nil
	case "redis":
		rdb, err := cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return store.NewRedisStore(rdb), nil
	default:
		return nil, fmt.Errorf("storage backend %q is not persistent, the CLI needs redis or postgres", cfg.Storage.Backend)
	}
}
