package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"landclaim.ai/internal/claim/gate"
	"landclaim.ai/internal/claim/placement"
	"landclaim.ai/internal/config"
	"landclaim.ai/internal/transport/ws"
)

func newMux(g *gate.Gate, wsSrv *ws.Server, idx runtimeIndex, rl *reloader, enableAdmin bool, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, g, wsSrv, idx)
	})

	if enableAdmin {
		mux.HandleFunc("/admin/v1/config", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			cfg := g.Config()
			raw, err := cfg.JSON()
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{
				"digest":     cfg.Digest(),
				"claim_rule": placement.ModeFrom(cfg).String(),
				"issues":     issueStrings(cfg.Issues()),
				"config":     json.RawMessage(raw),
			})
		}))
		mux.HandleFunc("/admin/v1/reload", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			cfg, err := rl.Reload()
			if err != nil {
				rw.WriteHeader(http.StatusUnprocessableEntity)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{
				"ok":         true,
				"digest":     cfg.Digest(),
				"claim_rule": placement.ModeFrom(cfg).String(),
				"issues":     issueStrings(cfg.Issues()),
			})
		}))
		mux.HandleFunc("/admin/v1/decisions", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			if idx == nil {
				http.Error(rw, "decision index disabled", http.StatusNotFound)
				return
			}
			world := r.URL.Query().Get("world")
			if world == "" {
				http.Error(rw, "missing world", http.StatusBadRequest)
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			rows, err := idx.Decisions(r.Context(), world, limit)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"world": world, "decisions": rows})
		}))
	} else {
		logger.Printf("admin endpoints disabled (CLAIMGATE_ENABLE_ADMIN_HTTP=false)")
	}

	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	return mux
}

func writeMetrics(rw http.ResponseWriter, g *gate.Gate, wsSrv *ws.Server, idx runtimeIndex) {
	m := wsSrv.Metrics()
	rule := placement.ModeFrom(g.Config()).String()

	fmt.Fprintf(rw, "# HELP claimgate_claim_rule Active claim rule.\n")
	fmt.Fprintf(rw, "# TYPE claimgate_claim_rule gauge\n")
	fmt.Fprintf(rw, "claimgate_claim_rule{rule=%q} 1\n", rule)

	fmt.Fprintf(rw, "# HELP claimgate_sessions_open Connected websocket sessions.\n")
	fmt.Fprintf(rw, "# TYPE claimgate_sessions_open gauge\n")
	fmt.Fprintf(rw, "claimgate_sessions_open %d\n", m.OpenSessions)

	fmt.Fprintf(rw, "# HELP claimgate_sessions_total Sessions accepted since start.\n")
	fmt.Fprintf(rw, "# TYPE claimgate_sessions_total counter\n")
	fmt.Fprintf(rw, "claimgate_sessions_total %d\n", m.TotalSessions)

	fmt.Fprintf(rw, "# HELP claimgate_checks_total CHECK requests answered.\n")
	fmt.Fprintf(rw, "# TYPE claimgate_checks_total counter\n")
	fmt.Fprintf(rw, "claimgate_checks_total %d\n", m.Checks)

	fmt.Fprintf(rw, "# HELP claimgate_denied_chunks_total Candidate chunks denied.\n")
	fmt.Fprintf(rw, "# TYPE claimgate_denied_chunks_total counter\n")
	fmt.Fprintf(rw, "claimgate_denied_chunks_total %d\n", m.DeniedChunks)

	fmt.Fprintf(rw, "# HELP claimgate_rate_limited_total CHECK requests rejected by the session limit.\n")
	fmt.Fprintf(rw, "# TYPE claimgate_rate_limited_total counter\n")
	fmt.Fprintf(rw, "claimgate_rate_limited_total %d\n", m.RateLimited)

	if idx == nil {
		return
	}
	st := idx.Stats()
	fmt.Fprintf(rw, "# HELP claimgate_index_queue_depth Decision index queue backlog.\n")
	fmt.Fprintf(rw, "# TYPE claimgate_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "claimgate_index_queue_depth %d\n", st.QueueDepth)

	fmt.Fprintf(rw, "# HELP claimgate_index_written_total Decisions committed to the index.\n")
	fmt.Fprintf(rw, "# TYPE claimgate_index_written_total counter\n")
	fmt.Fprintf(rw, "claimgate_index_written_total %d\n", st.Written)

	fmt.Fprintf(rw, "# HELP claimgate_index_dropped_total Index writes dropped on backpressure.\n")
	fmt.Fprintf(rw, "# TYPE claimgate_index_dropped_total counter\n")
	fmt.Fprintf(rw, "claimgate_index_dropped_total{kind=%q} %d\n", "decision", st.DropDecisionTotal)
	fmt.Fprintf(rw, "claimgate_index_dropped_total{kind=%q} %d\n", "config", st.DropConfigTotal)
}

func issueStrings(in []config.Issue) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, v.String())
	}
	return out
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
