package transcript

import (
	"fmt"
	"testing"
)

func TestAccumulator_CommitOrderAndTrim(t *testing.T) {
	a := New(0)
	a.AppendOutput("  Target")
	a.AppendInput("where is ")
	a.AppendOutput(" found ")
	if got := a.AppendInput("my cup?  "); got != "where is my cup?  " {
		t.Fatalf("AppendInput cumulative = %q", got)
	}

	committed := a.Commit()
	want := []Turn{
		{Role: RoleUser, Text: "where is my cup?"},
		{Role: RoleModel, Text: "Target found"},
	}
	if len(committed) != len(want) {
		t.Fatalf("Commit returned %d turns, want %d", len(committed), len(want))
	}
	for i := range want {
		if committed[i] != want[i] {
			t.Fatalf("committed[%d] = %+v, want %+v", i, committed[i], want[i])
		}
	}
	in, out := a.Partial()
	if in != "" || out != "" {
		t.Fatalf("Partial after commit = (%q, %q), want empty", in, out)
	}
}

func TestAccumulator_CommitSkipsEmpty(t *testing.T) {
	a := New(5)
	a.AppendInput("   ")
	if got := a.Commit(); len(got) != 0 {
		t.Fatalf("Commit = %+v, want none", got)
	}
	a.AppendOutput("hello")
	got := a.Commit()
	if len(got) != 1 || got[0].Role != RoleModel {
		t.Fatalf("Commit = %+v, want single model turn", got)
	}
	if h := a.History(); len(h) != 1 {
		t.Fatalf("len(History) = %d, want 1", len(h))
	}
}

func TestAccumulator_HistoryCap(t *testing.T) {
	a := New(3)
	for i := 0; i < 5; i++ {
		a.AppendOutput(fmt.Sprintf("turn %d", i))
		a.Commit()
	}
	h := a.History()
	if len(h) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(h))
	}
	for i, want := range []string{"turn 2", "turn 3", "turn 4"} {
		if h[i].Text != want {
			t.Fatalf("History[%d] = %q, want %q", i, h[i].Text, want)
		}
	}
}

func TestAccumulator_HistoryIsCopy(t *testing.T) {
	a := New(2)
	a.AppendInput("hi")
	a.Commit()
	h := a.History()
	h[0].Text = "changed"
	if got := a.History()[0].Text; got != "hi" {
		t.Fatalf("History mutated through snapshot: %q", got)
	}
}

func TestAccumulator_Reset(t *testing.T) {
	a := New(2)
	a.AppendInput("one")
	a.Commit()
	a.AppendOutput("partial")
	a.ResetPartial()
	if _, out := a.Partial(); out != "" {
		t.Fatalf("partial output after ResetPartial = %q", out)
	}
	if len(a.History()) != 1 {
		t.Fatalf("ResetPartial dropped history")
	}
	a.Reset()
	if len(a.History()) != 0 {
		t.Fatalf("Reset kept history")
	}
	if a.Limit() != 2 {
		t.Fatalf("Limit = %d, want 2", a.Limit())
	}
}
