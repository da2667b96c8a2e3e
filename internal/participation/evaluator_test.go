package participation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/synod/synod/internal/bus"
	"github.com/synod/synod/internal/config"
	"github.com/synod/synod/internal/org"
	"github.com/synod/synod/internal/reasoning"
)

type fakeService struct {
	mu    sync.Mutex
	resp  string
	err   error
	calls int
}

func (f *fakeService) Generate(ctx context.Context, req *reasoning.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.resp, f.err
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*bus.Message
}

func (f *fakePublisher) Publish(ctx context.Context, msg *bus.Message) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return int64(len(f.msgs)), nil
}

func (f *fakePublisher) last() *bus.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return nil
	}
	return f.msgs[len(f.msgs)-1]
}

func newCTOEvaluator(svc reasoning.Service, pub Publisher) *Evaluator {
	return NewEvaluator(org.RoleCTO, DefaultProfiles()[org.RoleCTO], config.DefaultConfig().Participation, svc, pub)
}

func broadcast(from org.Role, subject string) *bus.Message {
	return bus.NewMessage(from, bus.Broadcast, bus.TypeTask, subject, "")
}

func TestCTOFastPathNoForHiring(t *testing.T) {
	e := newCTOEvaluator(&fakeService{}, nil)

	res, err := e.Evaluate(context.Background(), broadcast(org.RoleCEO, "Hiring new HR manager"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Decision != DecisionNo {
		t.Errorf("cto should fast-path no on hiring, got %s (%s)", res.Decision, res.Reason)
	}
}

func TestCTOFastPathYesForDatabase(t *testing.T) {
	e := newCTOEvaluator(&fakeService{}, nil)

	res, err := e.Evaluate(context.Background(), broadcast(org.RoleCEO, "Database performance optimization"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Decision != DecisionYes {
		t.Fatalf("cto should fast-path yes on database work, got %s (%s)", res.Decision, res.Reason)
	}
	if res.Confidence < 0.8 {
		t.Errorf("expected confidence >= 0.8, got %v", res.Confidence)
	}
	// Sender (ceo) outranks cto: cto takes the lead in its own domain.
	if res.Type != TypeLead {
		t.Errorf("expected lead, got %s", res.Type)
	}
}

func TestPeerSenderGetsAssist(t *testing.T) {
	e := newCTOEvaluator(&fakeService{}, nil)

	res, err := e.Evaluate(context.Background(), broadcast(org.RoleCFO, "Database performance optimization"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Type != TypeAssist {
		t.Errorf("peer sender should yield assist, got %s", res.Type)
	}
}

func TestFastNoNeverBecomesYes(t *testing.T) {
	svc := &fakeService{resp: "DECISION: yes\nCONFIDENCE: 0.99"}
	pub := &fakePublisher{}
	e := newCTOEvaluator(svc, pub)

	msg := broadcast(org.RoleCEO, "Hiring new HR manager")
	res, err := e.Evaluate(context.Background(), msg)
	if err != nil || res.Decision != DecisionNo {
		t.Fatalf("precondition: fast no, got %v %v", res, err)
	}

	// Re-delivery of the same message id is not re-processed, so no deep
	// evaluation can ever flip the answer to yes.
	if _, err := e.Evaluate(context.Background(), msg); !errors.Is(err, ErrAlreadyEvaluated) {
		t.Errorf("expected ErrAlreadyEvaluated, got %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if svc.calls != 0 {
		t.Error("fast-path no must not reach the reasoning service")
	}
	if pub.last() != nil {
		t.Error("no yes result may be emitted for a fast-path no message id")
	}
}

func TestAmbiguousDefersAndPublishesResult(t *testing.T) {
	svc := &fakeService{resp: "DECISION: yes\nCONFIDENCE: 0.72\nPARTICIPATION: assist\nRATIONALE: tangentially technical"}
	pub := &fakePublisher{}
	e := newCTOEvaluator(svc, pub)

	// One keyword, no anti-keywords: 0.7 sits between the thresholds.
	msg := broadcast(org.RoleCEO, "Vendor selection for api gateway")
	res, err := e.Evaluate(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != DecisionDeferred {
		t.Fatalf("expected deferred, got %s (%s)", res.Decision, res.Reason)
	}
	if res.RetryAfter <= 0 {
		t.Error("deferred result must carry a retry hint")
	}

	waitFor(t, func() bool { return pub.last() != nil })
	out := pub.last()
	if out.Type != bus.TypeParticipation {
		t.Errorf("expected participation result message, got %s", out.Type)
	}
	var deep Result
	if err := json.Unmarshal([]byte(out.Content), &deep); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if deep.Decision != DecisionYes || deep.MessageID != msg.ID {
		t.Errorf("unexpected deep result: %+v", deep)
	}
	if deep.Confidence != 0.72 {
		t.Errorf("expected parsed confidence 0.72, got %v", deep.Confidence)
	}
	if deep.Type != TypeAssist {
		t.Errorf("expected assist, got %s", deep.Type)
	}
}

func TestServiceErrorFailsClosed(t *testing.T) {
	svc := &fakeService{err: errors.New("service down")}
	pub := &fakePublisher{}
	e := newCTOEvaluator(svc, pub)

	res, err := e.Evaluate(context.Background(), broadcast(org.RoleCEO, "Vendor selection for api gateway"))
	if err != nil || res.Decision != DecisionDeferred {
		t.Fatalf("precondition: deferred, got %v %v", res, err)
	}

	waitFor(t, func() bool { return pub.last() != nil })
	var deep Result
	if err := json.Unmarshal([]byte(pub.last().Content), &deep); err != nil {
		t.Fatal(err)
	}
	if deep.Decision != DecisionNo {
		t.Errorf("service failure must default to no, got %s", deep.Decision)
	}
}

func TestParseConfidence(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"CONFIDENCE: 0.85", 0.85},
		{"confidence is roughly 0.3 overall", 0.3},
		{"Confidence: 7", 1}, // clamped to the upper bound
		{"no marker here", 0.5},
		{"CONFIDENCE: high", 0.5},
		{"", 0.5},
	}
	for _, c := range cases {
		if got := parseConfidence(c.in); got != c.want {
			t.Errorf("parseConfidence(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseDecisionAndType(t *testing.T) {
	text := "DECISION: yes\nPARTICIPATION: lead\nRATIONALE: core domain"
	if parseDecision(text) != DecisionYes {
		t.Error("expected yes")
	}
	if parseParticipationType(text) != TypeLead {
		t.Error("expected lead")
	}
	if parseRationale(text) != "core domain" {
		t.Errorf("unexpected rationale %q", parseRationale(text))
	}

	// Anything non-affirmative fails closed.
	if parseDecision("DECISION: maybe") != DecisionNo {
		t.Error("non-yes must parse as no")
	}
	if parseDecision("garbled") != DecisionNo {
		t.Error("missing marker must parse as no")
	}
	if parseParticipationType("PARTICIPATION: whatever") != TypeObserve {
		t.Error("unknown type must default to observe")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
