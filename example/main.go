package main

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/sqledger/sqledger"
	"github.com/sqledger/sqledger/dialect"
)

// This is a simplified example of an application that will run a web server.
// Like any application using sqledger, it starts by connecting to its
// database and bringing the schema up to date with sqledger.Update. If this
// fails, it exits. If it succeeds, it continues to running the server.
//
// You do not need to run the changelog directly in your application -- for
// instance, you could use a kubernetes init container, or some other kind of
// initialization step to run it via Docker or CLI before starting your web
// server. This is just one way to do it.
func main() {
	ctx := context.Background()
	logger := log.NewWithOptions(os.Stdout, log.Options{Formatter: log.TextFormatter})
	logger.Info("connecting to the database")
	db, err := sql.Open("sqlite", "file:exampleapp.db?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		panic(err)
	}
	logger.Info("updating the schema")
	err = updateSchema(ctx, db, logger)
	if err != nil {
		panic(err)
	}

	logger.Info("running the web server")
	runServer(ctx, db, logger)
}

// The changelog and every changeset file it references will be embedded into
// the application at build time. You can also ship the changelog next to the
// application and have it read from disk. For more information, read the docs
// for sqledger.LoadChangelog.
//
//go:embed changelog.yaml changesets/*.sql
var changelogFS embed.FS

// Does what it says!
func updateSchema(ctx context.Context, db *sql.DB, logger *log.Logger) error {
	report, err := sqledger.Update(ctx, db, dialect.SQLite{}, changelogFS, "changelog.yaml", logAdapter{logger})
	if err != nil {
		return err
	}
	for _, warning := range report.Warnings {
		var vals []any
		for key, val := range warning.Fields {
			vals = append(vals, key, val)
		}
		logger.Warn(warning.Message, vals...)
	}
	return nil
}

// This is a fake, it just pretends to start a web server. It actually does
// nothing because this is just an example application to show off how the
// changelog workflow fits into an application's startup.
func runServer(_ context.Context, _ *sql.DB, logger *log.Logger) {
	fmt.Println("hello, world")
	fmt.Println("(this isn't actually a working application but please pretend it is)")
	for { // infinite loop, cancellable with ctrl-c
		time.Sleep(5 * time.Second)
		logger.Info("tick")
	}
}

// This is an unavoidable annoyance -- in order to make sqledger work with
// various different logging libraries (zap, slog, logrus, etc.) it requires
// you to adapt your logger to its interface. This wraps the charm/log logger
// so that we can see the sqledger logs when the app starts up.
type logAdapter struct {
	*log.Logger
}

func (l logAdapter) Log(
	_ context.Context,
	level sqledger.LogLevel,
	msg string,
	fields ...sqledger.LogField,
) {
	args := make([]any, 0, 2*len(fields))
	for _, field := range fields {
		args = append(args, field.Key, field.Value)
	}
	switch level {
	case sqledger.LogLevelDebug:
		l.Logger.Debug(msg, args...)
	case sqledger.LogLevelInfo:
		l.Logger.Info(msg, args...)
	case sqledger.LogLevelError:
		l.Logger.Error(msg, args...)
	case sqledger.LogLevelWarning:
		l.Logger.Warn(msg, args...)
	}
}
