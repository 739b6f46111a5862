// Command retrieve-api exposes the Retrieval Fan-Out Engine (C7), Adaptive
// Router (C8), and Policy Enforcer (C9) behind a single on-demand HTTP
// endpoint (spec section 6's retrieve() external interface).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/autopiloot/corepipe/internal/app"
	"github.com/autopiloot/corepipe/internal/config"
	"github.com/autopiloot/corepipe/internal/retrieve/fanout"
	"github.com/autopiloot/corepipe/internal/retrieve/policy"
	"github.com/autopiloot/corepipe/internal/retrieve/router"
	"github.com/autopiloot/corepipe/pkg/mid"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(os.Getenv("COREPIPE_CONFIG"))
	if err != nil {
		log.Error("config", "error", err)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("dependency unavailable", "error", err)
		return 3
	}
	defer a.Close()

	srv := &server{app: a, log: log}

	r := chi.NewRouter()
	r.Use(mid.Recover(log), mid.Logger(log), mid.CORS("*"))
	r.Get("/retrieve", srv.handleRetrieve)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	httpSrv := &http.Server{Addr: ":8081", Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info("retrieve-api.listening", "addr", httpSrv.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("listen", "error", err)
		return 3
	}
	return 0
}

type server struct {
	app *app.App
	log *slog.Logger
}

// retrieveEnvelope is the structured response every retrieve() caller
// receives, per spec section 7's "User-visible behavior" contract.
type retrieveEnvelope struct {
	Status          string              `json:"status"`
	Results         []resultDTO         `json:"results"`
	ErrorsBySource  map[string]string   `json:"errors_by_source"`
	RoutingDecision routingDecisionDTO  `json:"routing_decision"`
	PolicySummary   policySummaryDTO    `json:"policy_summary"`
}

type resultDTO struct {
	ChunkID        string   `json:"chunk_id"`
	VideoID        string   `json:"video_id"`
	ChannelID      string   `json:"channel_id"`
	Text           string   `json:"text"`
	ScoreFused     float64  `json:"score_fused"`
	MatchedSources []string `json:"matched_sources"`
	Redacted       bool     `json:"redacted"`
}

type routingDecisionDTO struct {
	Selected  []string `json:"selected_sources"`
	Strategy  string   `json:"strategy"`
	Rationale string   `json:"rationale"`
}

type policySummaryDTO struct {
	Mode       string `json:"mode"`
	Violations int    `json:"violations"`
}

func (s *server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	topK := s.app.Config.Retrieval.TopK
	if v := q.Get("top_k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			topK = n
		}
	}

	filters := fanout.Filters{ChannelID: q.Get("channel")}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.MinPublishedAt, filters.HasMinDate = t, true
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.MaxPublishedAt, filters.HasMaxDate = t, true
		}
	}

	override := router.OverrideAdaptive
	var forced []router.Source
	switch s.app.Config.Routing.Mode {
	case "always_on":
		override = router.OverrideAlwaysOn
	case "forced":
		override = router.OverrideForced
		for _, src := range s.app.Config.Routing.ForcedSources {
			forced = append(forced, router.Source(src))
		}
	}

	fused := s.app.Fanout.Retrieve(r.Context(), query, filters, topK, "", override, forced)

	decision := router.Route(query, router.Filters{
		ChannelID:      filters.ChannelID,
		MinPublishedAt: filters.HasMinDate,
		MaxPublishedAt: filters.HasMaxDate,
	}, nil, override, forced)

	pol := policy.Policy{
		AllowedChannels:  s.app.Config.Policy.AllowedChannels,
		MaxAgeDays:       s.app.Config.Policy.MaxAgeDays,
		SensitivePattern: nil,
		Mode:             policy.Mode(s.app.Config.Policy.Mode),
	}
	outcome, err := s.app.PolicyCheck.Enforce(r.Context(), fused.Results, pol)
	if err != nil {
		s.log.Error("retrieve.policy_enforce_failed", "error", err)
		http.Error(w, "policy enforcement failed", http.StatusInternalServerError)
		return
	}

	violations := 0
	for _, a := range outcome.AuditTrail {
		if len(a.Violations) > 0 {
			violations++
		}
	}
	env := retrieveEnvelope{
		Status:         fused.Status,
		ErrorsBySource: fused.Errors,
		RoutingDecision: routingDecisionDTO{
			Selected:  sourcesToStrings(decision.Selected),
			Strategy:  decision.Strategy,
			Rationale: decision.Rationale,
		},
		PolicySummary: policySummaryDTO{Mode: string(pol.Mode), Violations: violations},
	}
	for _, res := range outcome.Results {
		env.Results = append(env.Results, resultDTO{
			ChunkID: res.ChunkID, VideoID: res.VideoID, ChannelID: res.ChannelID,
			Text: res.Text, ScoreFused: res.ScoreFused, MatchedSources: res.MatchedSources,
			Redacted: res.Redacted,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

func sourcesToStrings(sources []router.Source) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}
