package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
	"github.com/codelaboratoryltd/lcpd/pkg/session"
)

// sessionView is the JSON form of a session
type sessionView struct {
	ID        string    `json:"id"`
	Peer      string    `json:"peer"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	OpenedAt  time.Time `json:"opened_at"`
	BytesIn   uint64    `json:"bytes_in"`
	BytesOut  uint64    `json:"bytes_out"`
}

// sessionsHandler lists sessions on GET and terminates one on DELETE ?id=
func sessionsHandler(m *session.Manager, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			infos := m.Sessions()
			sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })

			views := make([]sessionView, 0, len(infos))
			for _, info := range infos {
				views = append(views, sessionView{
					ID:        info.ID,
					Peer:      info.Peer,
					State:     info.State.String(),
					CreatedAt: info.CreatedAt,
					OpenedAt:  info.OpenedAt,
					BytesIn:   info.BytesIn,
					BytesOut:  info.BytesOut,
				})
			}

			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(views); err != nil {
				logger.Warn("Failed to encode sessions", zap.Error(err))
			}

		case http.MethodDelete:
			id := r.URL.Query().Get("id")
			if id == "" {
				http.Error(w, "missing id", http.StatusBadRequest)
				return
			}
			if err := m.Terminate(id, lcp.TerminateCauseAdminReset); err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			logger.Info("Session terminated by operator", zap.String("session_id", id))
			w.WriteHeader(http.StatusAccepted)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

var sessionsAddr string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions of a running lcpd",
	RunE:  showSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsAddr, "addr", "http://127.0.0.1:9090",
		"Base URL of the lcpd metrics server")
}

func showSessions(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(sessionsAddr + "/sessions")
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", sessionsAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var views []sessionView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		return fmt.Errorf("failed to decode sessions: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPEER\tSTATE\tAGE\tIN\tOUT")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			v.ID, v.Peer, v.State, time.Since(v.CreatedAt).Round(time.Second), v.BytesIn, v.BytesOut)
	}
	return tw.Flush()
}
