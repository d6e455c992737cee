package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hackgods/clinic-booking-engine/internal/config"
	"github.com/hackgods/clinic-booking-engine/internal/db"
	"github.com/hackgods/clinic-booking-engine/pkg/logging"
)

// migrator is the part of *db.Migrator the command drives.
type migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Version() (uint, bool, error)
}

// usage: migrate [up|down|version|force <version>]
func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("info", "prod")
		l.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "migrate").Logger()

	m, err := db.NewMigrator(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("create migrator")
	}

	args := os.Args[1:]
	err = run(m, args, os.Stdout)
	if cerr := m.Close(); cerr != nil {
		logger.Warn().Err(cerr).Msg("close migrator")
	}
	if err != nil {
		logger.Fatal().Err(err).Strs("args", args).Msg("migration failed")
	}
	logger.Info().Strs("args", args).Msg("migrations complete")
}

func run(m migrator, args []string, out io.Writer) error {
	cmd := "up"
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "version=%d dirty=%t\n", v, dirty)
		return nil
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("force needs a version")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		return m.Force(version)
	default:
		return fmt.Errorf("unknown command %q; want up, down, version or force", cmd)
	}
}
