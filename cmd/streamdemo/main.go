package main

// Emits a complete optimization event stream to stdout using scripted
// stages, then decodes the captured frames to confirm they parse:
//   go run ./cmd/streamdemo -rounds 2

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"optimizer-backend/internal/optimizations"
)

func main() {
	rounds := flag.Int("rounds", 2, "round on which the critic accepts the draft")
	manual := flag.Bool("manual", false, "pause for user approval between rounds")
	flag.Parse()

	if *rounds < 1 {
		fmt.Fprintln(os.Stderr, "rounds must be at least 1")
		os.Exit(1)
	}

	session := optimizations.Session{
		ID:         "demo-session",
		UserID:     "demo-user",
		DocumentID: "demo-document",
		TargetRole: "Senior Backend Engineer",
		Location:   "Austin, TX",
		Manual:     *manual,
	}

	pipe := &optimizations.Pipeline{
		Stages: scriptedStages{passAt: *rounds},
		Policy: optimizations.GatePolicy{},
		Limits: optimizations.RoundLimits{Min: 1, Max: *rounds + 1},
	}

	var captured bytes.Buffer
	sink := optimizations.NewStreamWriter(io.MultiWriter(os.Stdout, &captured))

	minted := 0
	mint := func(ctx context.Context, nextStep string, round int, state optimizations.PipelineState) (string, error) {
		minted++
		return fmt.Sprintf("continuation-%d", minted), nil
	}

	ctx := context.Background()
	params := optimizations.RunParams{Session: session, Resume: sampleResume}
	for {
		outcome, err := pipe.Run(ctx, params, sink, mint)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pipeline failed: %v\n", err)
			os.Exit(1)
		}
		if len(outcome.Blocked) > 0 {
			_ = sink.Close()
			fmt.Fprintf(os.Stderr, "gate blocked the session: %s\n", strings.Join(outcome.Blocked, "; "))
			os.Exit(1)
		}
		if outcome.Result != nil {
			if err := sink.Send(optimizations.Event{Type: optimizations.EventComplete, Optimization: outcome.Result}); err != nil {
				fmt.Fprintf(os.Stderr, "send complete: %v\n", err)
				os.Exit(1)
			}
			_ = sink.Close()
			break
		}
		if outcome.Paused == nil {
			fmt.Fprintln(os.Stderr, "segment ended without a result or pause")
			os.Exit(1)
		}
		// Each pause would be a new HTTP request; here the segments are
		// just concatenated onto one stream.
		params = optimizations.RunParams{
			Session:  session,
			Resume:   sampleResume,
			State:    outcome.State,
			FromStep: outcome.Paused.NextStep,
			Round:    outcome.Paused.Round,
		}
	}

	if err := validateStream(captured.Bytes()); err != nil {
		fmt.Fprintf(os.Stderr, "stream validation failed: %v\n", err)
		os.Exit(1)
	}
}

func validateStream(raw []byte) error {
	dec := optimizations.NewDecoder()
	var events []optimizations.Event
	// Feed in small chunks so framing survives arbitrary splits.
	for len(raw) > 0 {
		n := 7
		if n > len(raw) {
			n = len(raw)
		}
		events = append(events, dec.Feed(raw[:n])...)
		raw = raw[n:]
	}
	if fragment, ok := dec.Finish(); ok {
		return fmt.Errorf("trailing fragment: %q", fragment)
	}
	if !dec.Done() {
		return fmt.Errorf("stream missing terminator")
	}
	if len(events) == 0 {
		return fmt.Errorf("no events decoded")
	}
	last := events[len(events)-1]
	if last.Type != optimizations.EventComplete {
		return fmt.Errorf("last event was %s, want %s", last.Type, optimizations.EventComplete)
	}
	fmt.Printf("OK: decoded %d events, terminal %s\n", len(events), last.Type)
	return nil
}

type scriptedStages struct {
	passAt int
}

func (s scriptedStages) Research(ctx context.Context, sc optimizations.StageContext) (optimizations.Research, error) {
	return optimizations.Research{
		Summary: "distilled 4 requirements from the posting",
		Checklist: []string{
			"Go services in production at scale",
			"PostgreSQL schema design and tuning",
			"Event-driven integrations on AWS",
			"Mentoring and technical leadership",
		},
	}, nil
}

func (s scriptedStages) Write(ctx context.Context, sc optimizations.StageContext) (optimizations.Draft, error) {
	return optimizations.Draft{
		Summary:   fmt.Sprintf("round %d draft aligned to the checklist", sc.Round),
		Content:   fmt.Sprintf("%s\n\n[revision %d]", sampleResume, sc.Round),
		Changelog: []string{fmt.Sprintf("round %d: reworked summary and skills", sc.Round)},
	}, nil
}

func (s scriptedStages) Review(ctx context.Context, sc optimizations.StageContext) (optimizations.Scorecard, error) {
	if sc.Round < s.passAt {
		return optimizations.Scorecard{
			Overall:         70,
			ATSFitness:      68,
			KeywordCoverage: 64,
			Clarity:         80,
			RequiredEdits:   []string{"quantify the routing service impact", "surface PostgreSQL experience earlier"},
		}, nil
	}
	return optimizations.Scorecard{
		Overall:         92,
		ATSFitness:      90,
		KeywordCoverage: 91,
		Clarity:         94,
		Praise:          []string{"checklist coverage is complete"},
	}, nil
}

func (s scriptedStages) Render(ctx context.Context, sc optimizations.StageContext) (optimizations.Rendered, error) {
	return optimizations.Rendered{
		Summary:    "rendered all three delivery formats",
		ATSText:    sc.Draft,
		StyledHTML: "<article><h1>Jordan Lee</h1><p>Senior Backend Engineer</p></article>",
		Markdown:   "# Jordan Lee\n\nSenior Backend Engineer",
	}, nil
}

const sampleResume = `Jordan Lee
Senior Backend Engineer | Austin, TX | jordan.lee@example.com

Backend engineer with 8+ years building resilient APIs and data services.

Acme Logistics - Senior Backend Engineer (2021-present)
- Designed a routing service that reduced shipment latency by 18%.
- Implemented distributed tracing to cut incident triage time by 35%.

Blue Harbor Systems - Backend Engineer (2018-2021)
- Built event-driven ingestion pipelines for compliance data feeds.`
