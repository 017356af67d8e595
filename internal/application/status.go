package application

import (
	"fmt"
	"sort"
	"strings"
)

// Status 表示申请的生命周期状态。
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusReviewed           Status = "REVIEWED"
	StatusInterviewScheduled Status = "INTERVIEW_SCHEDULED"
	StatusInterviewCompleted Status = "INTERVIEW_COMPLETED"
	StatusAccepted           Status = "ACCEPTED"
	StatusRejected           Status = "REJECTED"
	StatusWithdrawn          Status = "WITHDRAWN"
)

// transitions 是状态机的完整迁移表。
// 终态（ACCEPTED / REJECTED / WITHDRAWN）的后继集合为空。
var transitions = map[Status][]Status{
	StatusPending:            {StatusReviewed, StatusRejected, StatusInterviewScheduled},
	StatusReviewed:           {StatusInterviewScheduled, StatusRejected, StatusAccepted},
	StatusInterviewScheduled: {StatusInterviewCompleted, StatusRejected, StatusAccepted},
	StatusInterviewCompleted: {StatusAccepted, StatusRejected},
	StatusAccepted:           {},
	StatusRejected:           {},
	StatusWithdrawn:          {},
}

// AllStatuses 返回全部合法状态，供校验与测试枚举使用。
func AllStatuses() []Status {
	statuses := make([]Status, 0, len(transitions))
	for s := range transitions {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	return statuses
}

// IsValidStatus 判断给定值是否属于状态枚举。
func IsValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal 判断状态是否为终态。
func IsTerminal(s Status) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// AllowedNext 返回某状态允许迁移到的后继集合。
func AllowedNext(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// TransitionError 表示一次不被状态机允许的迁移。
type TransitionError struct {
	From    Status
	To      Status
	Allowed []Status
}

func (e *TransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("cannot transition from terminal status %s", e.From)
	}
	names := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		names = append(names, string(s))
	}
	return fmt.Sprintf("cannot transition from %s to %s, allowed next statuses: %s",
		e.From, e.To, strings.Join(names, ", "))
}

// ValidateTransition 校验一次状态迁移是否合法。
// 迁移到当前状态本身始终视为合法（幂等重放）。
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	allowed, ok := transitions[from]
	if !ok {
		return &TransitionError{From: from, To: to}
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to, Allowed: AllowedNext(from)}
}

// HumanStatus 将状态值转为展示用文案（小写、下划线替换为空格）。
func HumanStatus(s Status) string {
	return strings.ReplaceAll(strings.ToLower(string(s)), "_", " ")
}
