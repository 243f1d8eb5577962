package gather

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/unixpickle/dist-mean/collcomm"
	"github.com/unixpickle/dist-mean/fault"
	"github.com/unixpickle/dist-mean/simulator"
)

func TestStarMeanOfMeans(t *testing.T) {
	RunGathererTests(t, Star{}, MeanOfMeans{})
}

func TestStarWeighted(t *testing.T) {
	RunGathererTests(t, Star{Combiner: Weighted{}}, Weighted{})
}

func TestStarOrderIndependence(t *testing.T) {
	contribs := make([]collcomm.Contribution, 9)
	for i := range contribs {
		contribs[i] = collcomm.Contribution{
			Run:   "r",
			Value: 1 / float64(i+3),
			Count: 10 + i,
		}
	}
	var first float64
	for i := 0; i < 50; i++ {
		result, err := RunSimulated(Star{}, simulator.RandomNetwork{}, contribs)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = result.Value
		} else if result.Value != first {
			t.Fatalf("run %d: got %v but the first run got %v", i, result.Value, first)
		}
	}
}

func TestMeanOfMeansKeepsBias(t *testing.T) {
	// Ten elements over three ranks: rank 0 averages four
	// ones, the others average three zeros each.
	contribs := []collcomm.Contribution{
		{Value: 1, Count: 4},
		{Value: 0, Count: 3},
		{Value: 0, Count: 3},
	}
	unweighted, err := MeanOfMeans{}.Combine(contribs)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(unweighted-1.0/3) > 1e-12 {
		t.Errorf("expected 1/3 but got %f", unweighted)
	}
	weighted, err := Weighted{}.Combine(contribs)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(weighted-0.4) > 1e-12 {
		t.Errorf("expected 0.4 but got %f", weighted)
	}
}

func TestCombineAllEmpty(t *testing.T) {
	contribs := make([]collcomm.Contribution, 4)
	for _, c := range []Combiner{MeanOfMeans{}, Weighted{}} {
		if _, err := c.Combine(contribs); !fault.Is(fault.UndefinedAverage, err) {
			t.Errorf("%T: expected undefined average but got %v", c, err)
		}
	}
	_, err := RunSimulated(Star{}, simulator.RandomNetwork{}, contribs)
	if !fault.Is(fault.UndefinedAverage, err) {
		t.Errorf("expected undefined average but got %v", err)
	}
}

func TestCombinerByName(t *testing.T) {
	if c, err := CombinerByName("weighted"); err != nil || c != (Weighted{}) {
		t.Errorf("unexpected result: %v, %v", c, err)
	}
	if c, err := CombinerByName(""); err != nil || c != (MeanOfMeans{}) {
		t.Errorf("unexpected result: %v, %v", c, err)
	}
	if _, err := CombinerByName("median"); !fault.Is(fault.Invalid, err) {
		t.Errorf("expected invalid configuration but got %v", err)
	}
}

func TestStarProtocolErrors(t *testing.T) {
	tests := map[string][]scriptedMessage{
		"Duplicate": {
			{collcomm.Contribution{Run: "r", Count: 1}, 0},
			{collcomm.Contribution{Run: "r", Count: 1}, 1},
			{collcomm.Contribution{Run: "r", Count: 1}, 1},
		},
		"WrongRun": {
			{collcomm.Contribution{Run: "r", Count: 1}, 0},
			{collcomm.Contribution{Run: "other", Count: 1}, 1},
		},
		"UnknownRank": {
			{collcomm.Contribution{Run: "r", Count: 1}, 7},
		},
		"NegativeCount": {
			{collcomm.Contribution{Run: "r", Count: -1}, 2},
		},
	}
	for name, script := range tests {
		t.Run(name, func(t *testing.T) {
			tr := &scriptedTransport{size: 3, script: script}
			_, err := Star{}.Gather(context.Background(), tr, collcomm.Contribution{Run: "r", Count: 1})
			if !fault.Is(fault.Protocol, err) {
				t.Errorf("expected protocol error but got %v", err)
			}
		})
	}
}

func TestStarIncomplete(t *testing.T) {
	tr := &scriptedTransport{
		size: 3,
		script: []scriptedMessage{
			{collcomm.Contribution{Run: "r", Count: 1}, 0},
			{collcomm.Contribution{Run: "r", Count: 1}, 2},
		},
	}
	_, err := Star{}.Gather(context.Background(), tr, collcomm.Contribution{Run: "r", Count: 1})
	if !fault.Is(fault.CollectiveIncomplete, err) {
		t.Fatalf("expected collective incomplete but got %v", err)
	}
	if !strings.Contains(err.Error(), "waiting on ranks 1") {
		t.Errorf("error should name the missing rank: %v", err)
	}
}

func TestStarNonCoordinator(t *testing.T) {
	tr := &scriptedTransport{rank: 2, size: 3}
	result, err := Star{}.Gather(context.Background(), tr, collcomm.Contribution{Run: "r", Value: 4, Count: 2})
	if err != nil {
		t.Fatal(err)
	}
	if result != nil {
		t.Error("non-coordinators should not get a result")
	}
	if len(tr.sent) != 1 || tr.sent[0].Value != 4 {
		t.Errorf("expected one contribution to be sent but got %v", tr.sent)
	}
}

type scriptedMessage struct {
	contrib collcomm.Contribution
	source  int
}

// scriptedTransport replays a fixed sequence of received
// messages, ignoring what is sent, and then reports the
// collective as incomplete.
type scriptedTransport struct {
	rank   int
	size   int
	script []scriptedMessage
	sent   []collcomm.Contribution
}

func (s *scriptedTransport) Rank() int { return s.rank }
func (s *scriptedTransport) Size() int { return s.size }

func (s *scriptedTransport) Send(ctx context.Context, dst int, c collcomm.Contribution) error {
	s.sent = append(s.sent, c)
	return nil
}

func (s *scriptedTransport) RecvAny(ctx context.Context) (collcomm.Contribution, int, error) {
	if len(s.script) == 0 {
		return collcomm.Contribution{}, -1, fault.E(fault.CollectiveIncomplete, "scripted", "deadline")
	}
	msg := s.script[0]
	s.script = s.script[1:]
	return msg.contrib, msg.source, nil
}

func (s *scriptedTransport) Close() error { return nil }
