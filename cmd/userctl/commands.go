package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mkrupp/userstore/internal/domain"
	context_ "github.com/mkrupp/userstore/internal/infra/context"
	"github.com/mkrupp/userstore/internal/infra/logging"
	"github.com/mkrupp/userstore/internal/infra/reload"
	"github.com/mkrupp/userstore/internal/infra/transport/http"
	"github.com/mkrupp/userstore/internal/repo/user"
	"github.com/mkrupp/userstore/internal/svc/authcache"
)

var (
	errScopeRequired = errors.New("exactly one of --system or --app is required")
	errWatchSystem   = errors.New("watch only follows the system identity set (--system)")
)

// cli carries the parsed configuration and flags shared by all commands.
type cli struct {
	cfg    Config
	out    io.Writer
	log    logging.Logger
	system bool
	app    string
}

func newRootCommand(cfg Config, out io.Writer) *cobra.Command {
	c := &cli{
		cfg: cfg,
		out: out,
		log: logging.GetLogger("cmd.userctl"),
	}

	root := &cobra.Command{
		Use:           "userctl",
		Short:         "Manage user records in the system or a tenant collection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetOut(out)
	root.PersistentFlags().BoolVar(&c.system, "system", false, "Operate on the system identity collection")
	root.PersistentFlags().StringVar(&c.app, "app", "", "Operate on the private user collection of this app")

	root.AddCommand(
		c.createCommand(),
		c.getCommand(),
		c.resolveCommand(),
		c.listCommand(),
		c.setCommand(),
		c.deleteCommand(),
		c.watchCommand(),
	)

	return root
}

func (c *cli) scope() (user.Scope, error) {
	switch {
	case c.system && c.app == "":
		return user.SystemScope(), nil
	case !c.system && c.app != "":
		return user.TenantScope(c.app), nil
	default:
		return user.Scope{}, errScopeRequired
	}
}

// withStore opens the database, builds the store for the selected scope and runs fn.
// In system scope, changes are published to Redis when it is configured.
func (c *cli) withStore(cmd *cobra.Command, fn func(ctx context.Context, store *user.Store) error) error {
	ctx := context_.WithNewTraceID(cmd.Context())

	scope, err := c.scope()
	if err != nil {
		return err
	}

	db, err := user.NewSQLiteDatabase(c.cfg.Store)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var notifier user.ReloadNotifier = user.NopNotifier{}

	if scope.System && c.cfg.Reload.Enabled() {
		client, err := reload.NewRedisClient(ctx, c.cfg.Reload)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()

		notifier = reload.NewRedisPublisher(client, c.cfg.Reload.Channel)
	}

	store, err := user.NewStore(ctx, db, scope, notifier)
	if err != nil {
		return fmt.Errorf("new store: %w", err)
	}

	return fn(ctx, store)
}

func (c *cli) createCommand() *cobra.Command {
	var userData, authData string

	cmd := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parsePayload("--data", userData)
			if err != nil {
				return err
			}

			auth, err := parsePayload("--auth", authData)
			if err != nil {
				return err
			}

			return c.withStore(cmd, func(ctx context.Context, store *user.Store) error {
				created, err := store.Create(ctx, args[0], data, auth)
				if err != nil {
					return err //nolint:wrapcheck
				}

				return c.print(created)
			})
		},
	}

	cmd.Flags().StringVar(&userData, "data", "", "User data as a JSON object")
	cmd.Flags().StringVar(&authData, "auth", "", "Auth data as a JSON object")

	return cmd
}

func (c *cli) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Print the user with the given id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, store *user.Store) error {
				found, err := store.Get(ctx, args[0])
				if err != nil {
					return err //nolint:wrapcheck
				}

				return c.print(found)
			})
		},
	}
}

func (c *cli) resolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve USERNAME",
		Short: "Print the user with the given username, or null",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, store *user.Store) error {
				found, err := store.Resolve(ctx, args[0])
				if err != nil {
					return err //nolint:wrapcheck
				}

				return c.print(found)
			})
		},
	}
}

func (c *cli) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print all usernames, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withStore(cmd, func(ctx context.Context, store *user.Store) error {
				usernames, err := store.List(ctx)
				if err != nil {
					return err //nolint:wrapcheck
				}

				for _, username := range usernames {
					fmt.Fprintln(c.out, username)
				}

				return nil
			})
		},
	}
}

func (c *cli) setCommand() *cobra.Command {
	var userData, authData string

	cmd := &cobra.Command{
		Use:   "set ID",
		Short: "Replace the user data and/or auth data of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("data") && !cmd.Flags().Changed("auth") {
				return errors.New("nothing to set: pass --data and/or --auth")
			}

			data, err := parsePayload("--data", userData)
			if err != nil {
				return err
			}

			auth, err := parsePayload("--auth", authData)
			if err != nil {
				return err
			}

			return c.withStore(cmd, func(ctx context.Context, store *user.Store) error {
				found, err := store.Get(ctx, args[0])
				if err != nil {
					return err //nolint:wrapcheck
				}

				if cmd.Flags().Changed("data") {
					found.UserData = data
				}

				if cmd.Flags().Changed("auth") {
					found.AuthData = auth
				}

				if err := store.Save(ctx, found); err != nil {
					return err //nolint:wrapcheck
				}

				saved, err := store.Get(ctx, found.ID)
				if err != nil {
					return err //nolint:wrapcheck
				}

				return c.print(saved)
			})
		},
	}

	cmd.Flags().StringVar(&userData, "data", "", "New user data as a JSON object")
	cmd.Flags().StringVar(&authData, "auth", "", "New auth data as a JSON object")

	return cmd
}

func (c *cli) deleteCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete the user with the given id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd, func(ctx context.Context, store *user.Store) error {
				if strict {
					return store.Delete(ctx, args[0]) //nolint:wrapcheck
				}

				deleted, err := store.DeleteUser(ctx, &domain.User{ID: args[0]})
				if err != nil {
					return err //nolint:wrapcheck
				}

				if !deleted {
					fmt.Fprintf(c.out, "%s not found\n", args[0])

					return nil
				}

				fmt.Fprintf(c.out, "%s deleted\n", args[0])

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Fail if the user does not exist")

	return cmd
}

func (c *cli) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep an identity cache warm from Redis reload notifications",
		Long: "Subscribes to the reload channel and re-reads the system identity set on every change.\n" +
			"Serves /metrics and /healthz when an HTTP server address is configured.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !c.system || c.app != "" {
				return errWatchSystem
			}

			client, err := reload.NewRedisClient(cmd.Context(), c.cfg.Reload)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer client.Close()

			return c.withStore(cmd, func(ctx context.Context, store *user.Store) error {
				return c.watch(ctx, store, client)
			})
		},
	}
}

func (c *cli) watch(ctx context.Context, store *user.Store, client redis.UniversalClient) error {
	cache := authcache.NewIdentityCache(store.Collection(), c.cfg.Cache)
	if err := cache.Reload(ctx); err != nil {
		return fmt.Errorf("initial reload: %w", err)
	}

	report := user.NotifierFunc(func(context.Context) error {
		_, err := fmt.Fprintf(c.out, "reloaded %d identities\n", cache.Len())

		return err //nolint:wrapcheck
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := reload.Subscribe(ctx, client, c.cfg.Reload.Channel, "", reload.Multi(cache, report), nil)
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err //nolint:wrapcheck
	})

	if c.cfg.HTTP.ServerAddr != "" {
		g.Go(func() error {
			ops := http.NewOpsHandler(prometheus.DefaultGatherer, func(context.Context) error {
				if cache.Len() == 0 {
					return errors.New("identity cache is empty")
				}

				return nil
			})

			return http.ListenAndServe(ctx, ops, c.cfg.HTTP) //nolint:wrapcheck
		})
	}

	c.log.InfoContext(ctx, "watching", "identities", cache.Len(), "channel", c.cfg.Reload.Channel)

	return g.Wait() //nolint:wrapcheck
}

// userView is the JSON shape users are printed in.
type userView struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	AuthData  map[string]any `json:"auth_data"`
	UserData  map[string]any `json:"user_data"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// print writes u as indented JSON, or null if u is nil.
func (c *cli) print(u *domain.User) error {
	var view *userView
	if u != nil {
		view = &userView{
			ID:        u.ID,
			Username:  u.Username,
			AuthData:  u.AuthData,
			UserData:  u.UserData,
			CreatedAt: u.CreatedAt,
			UpdatedAt: u.UpdatedAt,
		}
	}

	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")

	if err := enc.Encode(view); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	return nil
}

// parsePayload decodes a JSON object flag; an empty value yields nil.
func parsePayload(flag, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}

	payload, err := domain.DecodeData([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", flag, domain.ErrInvalidInput, err)
	}

	return payload, nil
}
