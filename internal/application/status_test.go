package application

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTransition_FullMatrix(t *testing.T) {
	statuses := AllStatuses()
	if len(statuses) != 7 {
		t.Fatalf("expected 7 statuses, got %d", len(statuses))
	}

	for _, from := range statuses {
		allowed := map[Status]bool{from: true}
		for _, next := range AllowedNext(from) {
			allowed[next] = true
		}
		for _, to := range statuses {
			err := ValidateTransition(from, to)
			if allowed[to] && err != nil {
				t.Errorf("%s -> %s: expected valid, got %v", from, to, err)
			}
			if !allowed[to] && err == nil {
				t.Errorf("%s -> %s: expected invalid, got nil", from, to)
			}
		}
	}
}

func TestValidateTransition_SameStatusIsValid(t *testing.T) {
	for _, s := range AllStatuses() {
		if err := ValidateTransition(s, s); err != nil {
			t.Errorf("%s -> %s: expected valid, got %v", s, s, err)
		}
	}
}

func TestValidateTransition_TerminalStatusesHaveNoSuccessors(t *testing.T) {
	for _, s := range []Status{StatusAccepted, StatusRejected, StatusWithdrawn} {
		if !IsTerminal(s) {
			t.Errorf("%s: expected terminal", s)
		}
		if next := AllowedNext(s); len(next) != 0 {
			t.Errorf("%s: expected empty successor set, got %v", s, next)
		}
	}
}

func TestValidateTransition_ErrorNamesAllowedStatuses(t *testing.T) {
	err := ValidateTransition(StatusPending, StatusAccepted)
	if err == nil {
		t.Fatal("expected error for PENDING -> ACCEPTED")
	}

	var transitionErr *TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected TransitionError, got %T", err)
	}

	msg := err.Error()
	for _, want := range []string{"REVIEWED", "REJECTED", "INTERVIEW_SCHEDULED"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing allowed status %s: %q", want, msg)
		}
	}
}

func TestHumanStatus(t *testing.T) {
	cases := map[Status]string{
		StatusPending:            "pending",
		StatusInterviewScheduled: "interview scheduled",
		StatusInterviewCompleted: "interview completed",
	}
	for status, want := range cases {
		if got := HumanStatus(status); got != want {
			t.Errorf("HumanStatus(%s) = %q, want %q", status, got, want)
		}
	}
}
