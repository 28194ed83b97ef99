package runner

import (
	"context"
	"strings"
	"testing"
)

func TestParseFailures(t *testing.T) {
	output := `collected 3 items

test_code.py::test_add PASSED
test_code.py::test_sub FAILED
test_code.py::test_div FAILED

FAILED test_code.py::test_sub - AssertionError: assert 2 == 3
FAILED test_code.py::test_div - ZeroDivisionError: division by zero
`
	failures := parseFailures(output)
	if len(failures) != 2 {
		t.Fatalf("got %d failures, want 2", len(failures))
	}
	if failures[0].TestName != "test_sub" {
		t.Errorf("first failure name = %q", failures[0].TestName)
	}
	if !strings.Contains(failures[0].Message, "AssertionError") {
		t.Errorf("first failure message = %q", failures[0].Message)
	}
	if failures[1].TestName != "test_div" {
		t.Errorf("second failure name = %q", failures[1].TestName)
	}
}

func TestParseFailuresCollectionError(t *testing.T) {
	output := "ERROR test_code.py - SyntaxError: invalid syntax\n"
	failures := parseFailures(output)
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
	if failures[0].TestName != "test_code.py" {
		t.Errorf("failure name = %q", failures[0].TestName)
	}
}

func TestResultSummary(t *testing.T) {
	passed := Result{Passed: true}
	if passed.Summary() != "all tests passed" {
		t.Errorf("passed summary = %q", passed.Summary())
	}

	failed := Result{
		Passed: false,
		Failures: []Failure{
			{TestName: "test_a", Message: "assert 1 == 2"},
			{TestName: "test_b"},
		},
	}
	want := "test_a: assert 1 == 2; test_b"
	if got := failed.Summary(); got != want {
		t.Errorf("failed summary = %q, want %q", got, want)
	}

	raw := Result{Passed: false, Output: "  traceback here \n"}
	if got := raw.Summary(); got != "traceback here" {
		t.Errorf("raw summary = %q", got)
	}
}

func TestFakeRunnerScript(t *testing.T) {
	fake := &FakeRunner{Results: []Result{
		{Passed: false, Failures: []Failure{{TestName: "test_x"}}},
		{Passed: true},
	}}

	first, err := fake.Run(context.Background(), "code", "tests")
	if err != nil {
		t.Fatal(err)
	}
	if first.Passed {
		t.Error("first run should fail")
	}

	second, _ := fake.Run(context.Background(), "code", "tests")
	if !second.Passed {
		t.Error("second run should pass")
	}

	// Script exhausted, last result repeats.
	third, _ := fake.Run(context.Background(), "code", "tests")
	if !third.Passed {
		t.Error("exhausted script should repeat last result")
	}
	if fake.Calls != 3 {
		t.Errorf("Calls = %d, want 3", fake.Calls)
	}
}

func TestFakeRunnerDefaultPasses(t *testing.T) {
	fake := &FakeRunner{}
	res, err := fake.Run(context.Background(), "code", "tests")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed {
		t.Error("empty fake should pass")
	}
}
