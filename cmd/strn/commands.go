package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/jmsrsd/strn-app/internal/domain"
	"github.com/urfave/cli/v3"
)

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "output raw JSON"}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authentication commands",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Login with a password and store the CLI token",
				Flags: append(transportFlags(),
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true, Sources: cli.EnvVars("STRN_PASSWORD")},
					&cli.StringFlag{Name: "token-name", Value: "cli"},
				),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg := transportConfig(c)
					var out struct {
						Token string `json:"token"`
						Email string `json:"email"`
						Role  string `json:"role"`
					}
					if err := dial(cfg).login(ctx, c.String("email"), c.String("password"), c.String("token-name"), &out); err != nil {
						return err
					}
					cfg.Token = out.Token
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Printf("logged in as %s (%s)\n", out.Email, out.Role)
					return nil
				},
			},
			{
				Name:  "magic-link",
				Usage: "Mail a single-use login link",
				Flags: append(transportFlags(), &cli.StringFlag{Name: "email", Required: true}),
				Action: func(ctx context.Context, c *cli.Command) error {
					if err := dial(transportConfig(c)).requestMagicLink(ctx, c.String("email")); err != nil {
						return err
					}
					fmt.Println("magic link sent")
					return nil
				},
			},
			{
				Name:      "verify",
				Usage:     "Exchange a magic link token for a session and store it",
				ArgsUsage: "<token>",
				Flags:     transportFlags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() != 1 {
						return fmt.Errorf("expected exactly one token argument")
					}
					cfg := transportConfig(c)
					var out struct {
						Token string `json:"token"`
						Email string `json:"email"`
						Role  string `json:"role"`
					}
					if err := dial(cfg).call(ctx, "auth.magic.verify", map[string]any{"token": c.Args().First()}, &out); err != nil {
						return err
					}
					cfg.Token = out.Token
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Printf("logged in as %s (%s)\n", out.Email, out.Role)
					return nil
				},
			},
			{
				Name:  "whoami",
				Usage: "Show the current authenticated user",
				Flags: []cli.Flag{jsonFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.Identity
					if err := dial(cfg).whoAmI(ctx, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printKV([][2]string{{"id", strconv.FormatUint(uint64(out.UserID), 10)}, {"email", out.Email}, {"role", out.Role}})
					return nil
				},
			},
			{
				Name:  "logout",
				Usage: "Revoke the stored token and clear it locally",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					_ = dial(cfg).logout(ctx)
					cfg.Token = ""
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Println("logged out")
					return nil
				},
			},
		},
	}
}

func transportFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "transport", Value: "uds", Usage: "uds or http"},
		&cli.StringFlag{Name: "server", Value: defaultServer},
		&cli.StringFlag{Name: "socket", Value: defaultSocket},
	}
}

func transportConfig(c *cli.Command) cliConfig {
	return cliConfig{Transport: c.String("transport"), Server: c.String("server"), Socket: c.String("socket")}
}

func refFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "kind", Required: true, Usage: "text, numeric, document or file"},
		&cli.StringFlag{Name: "domain", Required: true},
		&cli.StringFlag{Name: "id", Required: true},
		&cli.StringFlag{Name: "key", Required: true},
	}
}

func refParams(c *cli.Command) (domain.ValueKind, map[string]any, error) {
	kind, err := domain.ParseValueKind(c.String("kind"))
	if err != nil {
		return "", nil, err
	}
	return kind, map[string]any{"domain": c.String("domain"), "id": c.String("id"), "key": c.String("key")}, nil
}

func valueCommand() *cli.Command {
	return &cli.Command{
		Name:  "value",
		Usage: "Read and write typed attribute values",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Read one value",
				Flags: append(refFlags(), &cli.StringFlag{Name: "out", Usage: "write file values to this path"}, jsonFlag()),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					kind, params, err := refParams(c)
					if err != nil {
						return err
					}
					var out struct {
						Value json.RawMessage `json:"value"`
					}
					if err := dial(cfg).call(ctx, string(kind)+".get", params, &out); err != nil {
						return err
					}
					if kind == domain.KindFile && c.String("out") != "" {
						var data domain.ByteArray
						if err := json.Unmarshal(out.Value, &data); err != nil {
							return err
						}
						return os.WriteFile(c.String("out"), data, 0o644)
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					var v any
					if err := json.Unmarshal(out.Value, &v); err != nil {
						return err
					}
					fmt.Println(formatValue(v))
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "Write one value; file values take a path",
				ArgsUsage: "<value>",
				Flags:     refFlags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					kind, params, err := refParams(c)
					if err != nil {
						return err
					}
					if c.Args().Len() != 1 {
						return fmt.Errorf("expected exactly one value argument")
					}
					value, err := parseValue(kind, c.Args().First())
					if err != nil {
						return err
					}
					params["value"] = value
					if err := dial(cfg).call(ctx, string(kind)+".set", params, nil); err != nil {
						return err
					}
					fmt.Println("ok")
					return nil
				},
			},
			{
				Name:  "drop",
				Usage: "Clear one value store of an attribute",
				Flags: refFlags(),
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					kind, params, err := refParams(c)
					if err != nil {
						return err
					}
					if err := dial(cfg).call(ctx, string(kind)+".drop", params, nil); err != nil {
						return err
					}
					fmt.Println("ok")
					return nil
				},
			},
		},
	}
}

func entityCommand() *cli.Command {
	return &cli.Command{
		Name:  "entity",
		Usage: "Entity commands",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create an entity; a time-ordered id is generated when --id is empty",
				Flags: []cli.Flag{&cli.StringFlag{Name: "domain", Required: true}, &cli.StringFlag{Name: "id"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out struct {
						ID string `json:"id"`
					}
					if err := dial(cfg).call(ctx, "entity.create", map[string]any{"domain": c.String("domain"), "id": c.String("id")}, &out); err != nil {
						return err
					}
					fmt.Println(out.ID)
					return nil
				},
			},
			{
				Name:  "browse",
				Usage: "Page through entity ids",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "domain", Required: true},
					&cli.IntFlag{Name: "skip"},
					&cli.IntFlag{Name: "take", Value: 100},
					&cli.StringFlag{Name: "order", Value: "asc", Usage: "asc or desc"},
					jsonFlag(),
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var page domain.Page
					if err := dial(cfg).browse(ctx, c.String("domain"), domain.BrowseQuery{Skip: c.Int("skip"), Take: c.Int("take"), Order: domain.Order(c.String("order"))}, &page); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(page)
					}
					printPage(page)
					return nil
				},
			},
			{
				Name:  "count",
				Usage: "Count entities of a domain",
				Flags: []cli.Flag{&cli.StringFlag{Name: "domain", Required: true}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out struct {
						Total int64 `json:"total"`
					}
					if err := dial(cfg).call(ctx, "entity.count", map[string]any{"domain": c.String("domain")}, &out); err != nil {
						return err
					}
					fmt.Println(out.Total)
					return nil
				},
			},
			{
				Name:  "drop",
				Usage: "Drop an entity and all of its values",
				Flags: []cli.Flag{&cli.StringFlag{Name: "domain", Required: true}, &cli.StringFlag{Name: "id", Required: true}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					if err := dial(cfg).call(ctx, "entity.drop", map[string]any{"domain": c.String("domain"), "id": c.String("id")}, nil); err != nil {
						return err
					}
					fmt.Println("ok")
					return nil
				},
			},
		},
	}
}

func findCommand() *cli.Command {
	return &cli.Command{
		Name:  "find",
		Usage: "Find entity ids whose attribute matches a predicate",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "domain", Required: true},
			&cli.StringFlag{Name: "key", Required: true},
			&cli.StringFlag{Name: "kind", Usage: "search this store instead of the one the model declares"},
			&cli.StringFlag{Name: "where", Usage: `predicate as JSON, e.g. '{"gte": 3}' or '"exact"'`},
			&cli.StringFlag{Name: "contains"},
			&cli.StringFlag{Name: "starts-with"},
			&cli.StringFlag{Name: "ends-with"},
			jsonFlag(),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			where, err := buildPredicate(c)
			if err != nil {
				return err
			}
			method := "find"
			if c.String("kind") != "" {
				kind, err := domain.ParseValueKind(c.String("kind"))
				if err != nil {
					return err
				}
				method = "find." + string(kind)
			}
			var ids []string
			if err := dial(cfg).call(ctx, method, map[string]any{"domain": c.String("domain"), "key": c.String("key"), "where": where}, &ids); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(ids)
			}
			printList(ids)
			return nil
		},
	}
}

// buildPredicate merges --where with the string shortcut flags.
func buildPredicate(c *cli.Command) (domain.Predicate, error) {
	var p domain.Predicate
	if raw := c.String("where"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return domain.Predicate{}, fmt.Errorf("parse --where: %w", err)
		}
	}
	if c.IsSet("contains") {
		s := c.String("contains")
		p.Contains = &s
	}
	if c.IsSet("starts-with") {
		s := c.String("starts-with")
		p.StartsWith = &s
	}
	if c.IsSet("ends-with") {
		s := c.String("ends-with")
		p.EndsWith = &s
	}
	return p, nil
}

func recordCommand() *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Read whole entities through the domain model",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Read every modelled attribute of an entity",
				Flags: []cli.Flag{&cli.StringFlag{Name: "domain", Required: true}, &cli.StringFlag{Name: "id", Required: true}, jsonFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out struct {
						Domain string         `json:"domain"`
						ID     string         `json:"id"`
						Fields map[string]any `json:"fields"`
					}
					if err := dial(cfg).call(ctx, "record.get", map[string]any{"domain": c.String("domain"), "id": c.String("id")}, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printRecord(out.Fields, out.Domain, out.ID)
					return nil
				},
			},
		},
	}
}

func dropCommand() *cli.Command {
	return &cli.Command{
		Name:  "drop",
		Usage: "Drop a node of the served application and everything beneath it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "level", Required: true, Usage: "application, domain, entity or attribute"},
			&cli.StringFlag{Name: "domain"},
			&cli.StringFlag{Name: "id"},
			&cli.StringFlag{Name: "key"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			params := map[string]any{"level": c.String("level"), "domain": c.String("domain"), "id": c.String("id"), "key": c.String("key")}
			if err := dial(cfg).call(ctx, "drop", params, nil); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func domainsCommand() *cli.Command {
	return &cli.Command{
		Name:  "domains",
		Usage: "List domains of the served application",
		Flags: []cli.Flag{&cli.BoolFlag{Name: "models", Usage: "show the configured domain models instead"}, jsonFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if c.Bool("models") {
				var models []domain.Model
				if err := dial(cfg).call(ctx, "model.list", nil, &models); err != nil {
					return err
				}
				if c.Bool("json") {
					return printJSON(models)
				}
				rows := make([][]string, 0)
				for _, m := range models {
					for _, key := range m.Keys() {
						rows = append(rows, []string{m.Domain, key, string(m.Attributes[key])})
					}
				}
				printTable([]string{"DOMAIN", "KEY", "KIND"}, rows)
				return nil
			}
			var keys []string
			if err := dial(cfg).call(ctx, "domain.list", nil, &keys); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(keys)
			}
			printList(keys)
			return nil
		},
	}
}

func applicationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "applications",
		Usage: "List every application in the database (admin)",
		Flags: []cli.Flag{jsonFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var keys []string
			if err := dial(cfg).call(ctx, "application.list", nil, &keys); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(keys)
			}
			printList(keys)
			return nil
		},
	}
}

func accessCommand() *cli.Command {
	return &cli.Command{
		Name:  "access",
		Usage: "User administration",
		Commands: []*cli.Command{
			{
				Name:  "users",
				Usage: "List users",
				Flags: []cli.Flag{&cli.StringFlag{Name: "q"}, &cli.IntFlag{Name: "limit", Value: 200}, jsonFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []domain.User
					if err := dial(cfg).call(ctx, "access.user.list", map[string]any{"q": c.String("q"), "limit": c.Int("limit")}, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printUsers(out)
					return nil
				},
			},
			{
				Name:  "role",
				Usage: "Set the role of a user",
				Flags: []cli.Flag{&cli.StringFlag{Name: "email", Required: true}, &cli.StringFlag{Name: "role", Required: true, Usage: "admin or guest"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.User
					if err := dial(cfg).call(ctx, "access.user.role", map[string]any{"email": c.String("email"), "role": c.String("role")}, &out); err != nil {
						return err
					}
					fmt.Printf("%s is now %s\n", out.Email, out.Role)
					return nil
				},
			},
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Audit log commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent audit records",
				Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 200}, jsonFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []domain.AuditRecord
					if err := dial(cfg).call(ctx, "audit.list", map[string]any{"limit": c.Int("limit")}, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printAuditRecords(out)
					return nil
				},
			},
		},
	}
}
