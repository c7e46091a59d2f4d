package snapshot

import (
	"sort"

	"bot-scorer/internal/features"
)

// Delta is the direction a tracked field moved between two snapshots.
type Delta string

const (
	Up   Delta = "up"
	Down Delta = "down"
	Same Delta = "-"
)

// Tracked field names beyond the eight features.
const (
	FieldBotScore = "bot_score"
	FieldIsActive = "is_active"
)

// ChangeFields lists the ten fields compared between snapshots.
var ChangeFields = func() []string {
	fields := make([]string, 0, features.Count+2)
	for _, n := range features.Names {
		fields = append(fields, n.String())
	}
	return append(fields, FieldBotScore, FieldIsActive)
}()

// Change maps every tracked field to its Delta.
type Change map[string]Delta

// Diff compares cur against prev field by field. Booleans order false < true.
func Diff(cur, prev Snapshot) Change {
	c := make(Change, len(ChangeFields))

	cv, pv := cur.Vector(), prev.Vector()
	for _, n := range features.Names {
		c[n.String()] = compare(cv[n], pv[n])
	}
	c[FieldBotScore] = compare(cur.BotScore, prev.BotScore)
	c[FieldIsActive] = compare(boolValue(cur.IsActive), boolValue(prev.IsActive))
	return c
}

// ComputeChange locates id in an account's history and diffs it against its
// chronological predecessor. It returns nil when id is the oldest snapshot.
//
// Snapshots sharing a capture timestamp keep the order they have in history.
func ComputeChange(history []Snapshot, id uint64) (Change, error) {
	ordered := newestFirst(history)

	idx := indexOf(ordered, id)
	if idx < 0 {
		return nil, ErrSnapshotNotFound
	}
	if idx == len(ordered)-1 {
		return nil, nil
	}
	return Diff(ordered[idx], ordered[idx+1]), nil
}

// Neighbours returns the ids of the chronologically previous and next
// snapshots of id within history. Zero means there is none.
func Neighbours(history []Snapshot, id uint64) (prev, next uint64, err error) {
	ordered := newestFirst(history)

	idx := indexOf(ordered, id)
	if idx < 0 {
		return 0, 0, ErrSnapshotNotFound
	}
	if idx+1 < len(ordered) {
		prev = ordered[idx+1].ID
	}
	if idx > 0 {
		next = ordered[idx-1].ID
	}
	return prev, next, nil
}

func newestFirst(history []Snapshot) []Snapshot {
	ordered := make([]Snapshot, len(history))
	copy(ordered, history)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TakenAt.After(ordered[j].TakenAt)
	})
	return ordered
}

func indexOf(ordered []Snapshot, id uint64) int {
	for i := range ordered {
		if ordered[i].ID == id {
			return i
		}
	}
	return -1
}

func compare(cur, prev float64) Delta {
	switch {
	case cur > prev:
		return Up
	case cur < prev:
		return Down
	default:
		return Same
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
