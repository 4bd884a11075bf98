package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mdstreamv1/config"
	sqlitestore "mdstreamv1/internal/store/sqlite"
)

// newSignalsCmd builds the journal review subcommand. It reads the
// SQLite signal journal written by earlier runs and never opens a new
// session.
func newSignalsCmd() *cobra.Command {
	var (
		journalPath string
		sessionID   int64
		limit       int
		list        bool
	)

	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Review journaled consensus signals",
		Long: `signals prints consensus signals recorded by earlier runs. Without
flags it shows the latest session; --list enumerates sessions and
--session selects one by id.`,
		Run: func(cmd *cobra.Command, args []string) {
			path := journalPath
			if path == "" {
				path = config.Load().JournalPath
			}
			if path == "" {
				log.Fatalf("[mdterm] no journal: set --journal or JOURNAL_PATH")
			}
			if _, err := os.Stat(path); err != nil {
				log.Fatalf("[mdterm] journal %s: %v", path, err)
			}

			r, err := sqlitestore.NewReader(path)
			if err != nil {
				log.Fatalf("[mdterm] open journal: %v", err)
			}
			defer r.Close()

			if list {
				if err := printSessions(r, limit); err != nil {
					log.Fatalf("[mdterm] %v", err)
				}
				return
			}
			if err := printSignals(r, sessionID, limit); err != nil {
				log.Fatalf("[mdterm] %v", err)
			}
		},
	}

	f := cmd.Flags()
	f.StringVar(&journalPath, "journal", "", "SQLite journal path (default JOURNAL_PATH)")
	f.Int64Var(&sessionID, "session", 0, "session id to review (default latest)")
	f.IntVar(&limit, "limit", 50, "maximum rows to print (0 = all)")
	f.BoolVar(&list, "list", false, "list sessions instead of signals")
	return cmd
}

func printSessions(r *sqlitestore.Reader, limit int) error {
	sessions, err := r.Sessions(limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("journal has no sessions")
		return nil
	}
	fmt.Printf("%8s  %-19s  %-19s  %-8s  %7s  %s\n",
		"SESSION", "STARTED", "ENDED", "PROVIDER", "SIGNALS", "SYMBOLS")
	for _, s := range sessions {
		ended := "(open)"
		if !s.EndedAt.IsZero() {
			ended = s.EndedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%8d  %-19s  %-19s  %-8s  %7d  %s\n",
			s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), ended, s.Provider, s.Signals, s.Symbols)
	}
	return nil
}

func printSignals(r *sqlitestore.Reader, sessionID int64, limit int) error {
	var ses *sqlitestore.Session
	var err error
	if sessionID > 0 {
		ses, err = findSession(r, sessionID)
	} else {
		ses, err = r.LatestSession()
	}
	if err != nil {
		return err
	}
	if ses == nil {
		fmt.Println("journal has no sessions")
		return nil
	}

	state := "open"
	if !ses.EndedAt.IsZero() {
		state = "ended " + ses.EndedAt.Format("2006-01-02 15:04:05")
	}
	fmt.Printf("session %d: %s %s (started %s UTC, %s, %d signals)\n",
		ses.ID, ses.Provider, ses.Symbols,
		ses.StartedAt.Format("2006-01-02 15:04:05"), state, ses.Signals)

	sigs, err := r.SignalsForSession(ses.ID, limit)
	if err != nil {
		return err
	}
	if len(sigs) == 0 {
		fmt.Println("no signals recorded")
		return nil
	}
	fmt.Printf("%-12s  %-4s  %8s  %s\n", "TIME", "KIND", "STRENGTH", "REASON")
	for _, sig := range sigs {
		ts := time.UnixMilli(sig.TS).UTC().Format("15:04:05.000")
		fmt.Printf("%-12s  %-4s  %8.2f  %s\n", ts, sig.Kind, sig.Strength, sig.Reason)
	}
	return nil
}

func findSession(r *sqlitestore.Reader, id int64) (*sqlitestore.Session, error) {
	sessions, err := r.Sessions(0)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].ID == id {
			return &sessions[i], nil
		}
	}
	return nil, fmt.Errorf("session %d not found", id)
}
