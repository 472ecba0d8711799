package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/orderout/nightglow/executor"
	"github.com/orderout/nightglow/executor/pagetest"
	"github.com/orderout/nightglow/instrument"
	"github.com/orderout/nightglow/producer"
	"github.com/orderout/nightglow/producer/sqlbus"
	"github.com/orderout/nightglow/runner"
	"github.com/orderout/nightglow/workflow"
)

func main() {
	ctx := context.Background()

	data, err := os.ReadFile("checkout.json")
	if err != nil {
		log.Fatal(err)
	}

	wf, err := workflow.Parse(data)
	if err != nil {
		log.Fatal(err)
	}

	transport, err := sqlbus.NewInMemory(nil)
	if err != nil {
		log.Fatal(err)
	}

	prod := producer.New(transport, nil)
	if err := prod.Connect(ctx); err != nil {
		log.Fatal(err)
	}

	embedder := instrument.NewEmbedder(prod, &instrument.Options{AutoEnable: true})
	defer embedder.TeardownAll(ctx)

	// Records the action type after every step. The alert condition
	// watches a durationMs field, which this probe does not report, so
	// its results stay at trace severity.
	if err := embedder.Register(&instrument.Probe{
		ID:    "step-latency",
		Name:  "Step latency watchdog",
		Kind:  "timing",
		Phase: instrument.PhaseAfterAction,
		AlertConditions: []instrument.AlertCondition{
			{Field: "durationMs", Operator: instrument.OpGt, Threshold: 1000, Severity: instrument.SeverityWarn},
		},
		Measure: func(ctx context.Context, pc *instrument.Context) (*instrument.ProbeResult, error) {
			return &instrument.ProbeResult{
				Values: map[string]any{"action": pc.ActionType},
			}, nil
		},
	}); err != nil {
		log.Fatal(err)
	}

	page := &pagetest.Page{
		Elements: map[string]*pagetest.Element{
			".deal": {Attributes: map[string]string{
				"data-sku":   "TEAPOT-42",
				"data-price": "19.99",
			}},
		},
	}

	r := runner.New(executor.New(nil), prod, embedder)

	result, err := r.Run(ctx, wf, &runner.Session{ID: "sample-session", Page: page})
	if err != nil {
		log.Fatal(err)
	}

	if err := prod.Flush(ctx); err != nil {
		log.Fatal(err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	log.Println("workflow finished:\n" + string(out))

	recorded, err := transport.EventsBySession(ctx, "sample-session")
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("recorded %d events", len(recorded))

	if err := prod.Disconnect(ctx); err != nil {
		log.Fatal(err)
	}
}
