package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/incidentgraph/graph"
	"github.com/dshills/incidentgraph/graph/emit"
	"github.com/dshills/incidentgraph/internal/app"
)

var decideFlags struct {
	file     string
	output   string
	runID    string
	timeline bool
}

var decideCmd = &cobra.Command{
	Use:   "decide [description...]",
	Short: "Decide on an incident description",
	Long: "Runs one incident description (the joined arguments) through the decision\n" +
		"workflow. With --file, every non-empty line is a separate incident and the\n" +
		"lines are decided concurrently.",
	RunE: runDecide,
}

func init() {
	f := decideCmd.Flags()
	f.StringVarP(&decideFlags.file, "file", "f", "", "File with one incident description per line (- for stdin)")
	f.StringVarP(&decideFlags.output, "output", "o", "text", "Output format: text or json")
	f.StringVar(&decideFlags.runID, "run-id", "", "Run ID for a single description (default: random)")
	f.BoolVar(&decideFlags.timeline, "timeline", false, "Print each step's status and duration after the decision (text output)")
}

func runDecide(cmd *cobra.Command, args []string) error {
	if decideFlags.output != "text" && decideFlags.output != "json" {
		return fmt.Errorf("unknown output format %q", decideFlags.output)
	}

	var reqs []graph.Request
	switch {
	case decideFlags.file != "":
		if len(args) > 0 {
			return fmt.Errorf("pass either --file or a description, not both")
		}
		var err error
		if reqs, err = readRequests(cmd.InOrStdin(), decideFlags.file); err != nil {
			return err
		}
	case len(args) > 0:
		reqs = []graph.Request{{RunID: decideFlags.runID, Description: strings.Join(args, " ")}}
	default:
		return fmt.Errorf("an incident description is required")
	}

	var opts []app.Option
	var events *emit.BufferedEmitter
	if decideFlags.timeline {
		events = emit.NewBufferedEmitter()
		opts = append(opts, app.WithEmitter(events))
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		decisions := a.Engine.RunBatch(ctx, reqs)

		out := cmd.OutOrStdout()
		failed := 0
		for i, d := range decisions {
			if d.Failed() {
				failed++
			}
			var err error
			if decideFlags.output == "json" {
				err = writeJSON(out, d)
			} else {
				if i > 0 {
					fmt.Fprintln(out)
				}
				err = writeText(out, d)
				if err == nil && events != nil {
					err = writeTimeline(out, events.GetHistory(d.RunID))
				}
			}
			if err != nil {
				return err
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d requests failed", failed, len(decisions))
		}
		return nil
	}, opts...)
}

func readRequests(stdin io.Reader, path string) ([]graph.Request, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open incidents: %w", err)
		}
		defer f.Close()
		r = f
	}

	var reqs []graph.Request
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			reqs = append(reqs, graph.Request{Description: line})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read incidents: %w", err)
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("no incident descriptions in %s", path)
	}
	return reqs, nil
}

func writeJSON(w io.Writer, d graph.Decision) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

func writeText(w io.Writer, d graph.Decision) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "Run:        %s\n", d.RunID)
	if d.TraceID != "" {
		fmt.Fprintf(bw, "Trace:      %s\n", d.TraceID)
	}
	fmt.Fprintf(bw, "Outcome:    %s\n", d.Outcome)

	if d.Failed() {
		fmt.Fprintf(bw, "Reason:     %s\n", d.FailureReason)
		return bw.Flush()
	}

	fmt.Fprintf(bw, "Incident:   %s / %s (%s)\n", d.Signature.IncidentType, d.Signature.AffectedArea, d.Signature.Context)
	fmt.Fprintf(bw, "Evidence:   %s, %d matches\n", d.EvidenceStatus, len(d.Evidence))
	for _, e := range d.Evidence {
		result := "failed"
		if e.Success {
			result = "succeeded"
		}
		fmt.Fprintf(bw, "  %.2f  %s -> %s (%s)\n", e.Similarity, e.IssueText, e.ActionTaken, result)
	}
	fmt.Fprintf(bw, "Confidence: %.2f\n", d.ConfidenceScore)
	if d.SuggestedAction != "" {
		fmt.Fprintf(bw, "Suggested:  %s\n", d.SuggestedAction)
	}
	if d.Usage.Calls > 0 {
		fmt.Fprintf(bw, "LLM usage:  %d calls, %d in / %d out tokens, $%.4f\n", d.Usage.Calls, d.Usage.TokensIn, d.Usage.TokensOut, d.Usage.CostUSD)
	}
	for _, warn := range d.Warnings {
		fmt.Fprintf(bw, "Warning:    %s\n", warn)
	}
	fmt.Fprintf(bw, "\n%s\n\n%s\n", d.ResponseText, d.Summary())

	if d.ApprovalRequired {
		fmt.Fprintln(bw, "\n*** HUMAN REVIEW REQUIRED: do not act on this recommendation without approval ***")
	}
	return bw.Flush()
}

// writeTimeline prints one line per finished step, in order, with any
// warnings recorded for that step underneath.
func writeTimeline(w io.Writer, events []emit.Event) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "\nTimeline:")

	var warnings []string
	for _, ev := range events {
		switch ev.Msg {
		case emit.MsgStepWarning:
			warnings = append(warnings, fmt.Sprint(ev.Meta["error"]))
		case emit.MsgStepEnd:
			fmt.Fprintf(bw, "  %d. %-22s %-8v %5vms\n", ev.Step, ev.Phase, ev.Meta["status"], ev.Meta["duration_ms"])
			if msg, ok := ev.Meta["error"]; ok {
				fmt.Fprintf(bw, "       error: %v\n", msg)
			}
			for _, warn := range warnings {
				fmt.Fprintf(bw, "       warning: %s\n", warn)
			}
			warnings = warnings[:0]
		}
	}
	return bw.Flush()
}
