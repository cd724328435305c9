package model

import (
	"sort"
	"time"
)

// GroupState is the processing state of an observation group.
type GroupState string

const (
	StateCollecting GroupState = "collecting"
	StatePending    GroupState = "pending"
	StateInProgress GroupState = "in_progress"
	StateCompleted  GroupState = "completed"
	StateFailed     GroupState = "failed"
)

// stateTransitions lists the legal next states for each state.
var stateTransitions = map[GroupState][]GroupState{
	StateCollecting: {StatePending, StateFailed},
	StatePending:    {StateInProgress, StateFailed},
	StateInProgress: {StateCompleted, StatePending, StateFailed},
	StateCompleted:  {},
	StateFailed:     {StatePending}, // operator requeue only
}

// ValidTransition reports whether from -> to is a legal state change.
func ValidTransition(from, to GroupState) bool {
	for _, next := range stateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state is final.
func (s GroupState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// AllStates returns every queue state in lifecycle order.
func AllStates() []GroupState {
	return []GroupState{StateCollecting, StatePending, StateInProgress, StateCompleted, StateFailed}
}

// Member is one arrived subband file.
type Member struct {
	GroupKey  string    `json:"groupKey"`
	Index     int       `json:"index"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"sizeBytes"`
	ModTime   time.Time `json:"modTime"`
	ArrivedAt time.Time `json:"arrivedAt"`
}

// Group is the unit of work: all subbands for one observation epoch.
type Group struct {
	Key           string         `json:"key"`
	ExpectedCount int            `json:"expectedCount"`
	Members       map[int]Member `json:"members"`
	State         GroupState     `json:"state"`
	Partial       bool           `json:"partial"`
	CreatedAt     time.Time      `json:"createdAt"`
	LastUpdateAt  time.Time      `json:"lastUpdateAt"`
	AttemptCount  int            `json:"attemptCount"`
	NextAttemptAt time.Time      `json:"nextAttemptAt"`
	LastError     string         `json:"lastError,omitempty"`
	OutputPath    string         `json:"outputPath,omitempty"`
	LockToken     string         `json:"lockToken,omitempty"`
}

// NewGroup creates a fresh collecting group for its first member.
func NewGroup(key string, expected int, now time.Time) *Group {
	return &Group{
		Key:           key,
		ExpectedCount: expected,
		Members:       make(map[int]Member),
		State:         StateCollecting,
		CreatedAt:     now,
		LastUpdateAt:  now,
	}
}

// AddMember records an arrival. A duplicate index only overwrites when the
// new file is strictly newer; the received count never decreases.
// Returns true when the members map changed.
func (g *Group) AddMember(m Member) bool {
	prev, ok := g.Members[m.Index]
	if ok && !m.ModTime.After(prev.ModTime) {
		return false
	}
	g.Members[m.Index] = m
	return true
}

// Complete reports whether every expected member index has arrived.
func (g *Group) Complete() bool {
	return len(g.Members) >= g.ExpectedCount
}

// MemberPaths returns the file paths ordered by subband index.
func (g *Group) MemberPaths() []string {
	indices := make([]int, 0, len(g.Members))
	for idx := range g.Members {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	paths := make([]string, 0, len(indices))
	for _, idx := range indices {
		paths = append(paths, g.Members[idx].Path)
	}
	return paths
}
