package results

import (
	"errors"
	"slices"
	"strings"
	"time"

	"battlecore/server/application"
)

var ErrBattleNotFound = errors.New("results: battle not found")

// BattleStatus はバトルの進行状況です。
type BattleStatus string

const (
	StatusRunning  BattleStatus = "running"
	StatusFinished BattleStatus = "finished"
	StatusAborted  BattleStatus = "aborted"
	StatusFailed   BattleStatus = "failed"
)

// Entry は1バトル分の記録です。
type Entry struct {
	BattleID   string                     `json:"battleId"`
	Status     BattleStatus               `json:"status"`
	Round      int                        `json:"round"`
	Turn       int                        `json:"turn"`
	StartedAt  time.Time                  `json:"startedAt"`
	UpdatedAt  time.Time                  `json:"updatedAt"`
	FinishedAt *time.Time                 `json:"finishedAt,omitempty"`
	Results    *application.BattleResults `json:"results,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// Store は排他制御を持たない素の保管庫です。外側のラッパーが直列化します。
type Store struct {
	entries map[string]*Entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

func (s *Store) entry(battleID string, ts time.Time) *Entry {
	e, ok := s.entries[battleID]
	if !ok {
		e = &Entry{BattleID: battleID, Status: StatusRunning, StartedAt: ts, UpdatedAt: ts}
		s.entries[battleID] = e
	}
	return e
}

func (s *Store) applyStart(battleID string, ts time.Time) {
	s.entry(battleID, ts)
}

func (s *Store) applyTurn(battleID string, round, turn int, ts time.Time) {
	e := s.entry(battleID, ts)
	e.Round = round
	e.Turn = turn
	e.UpdatedAt = ts
}

func (s *Store) applyEnd(battleID string, results *application.BattleResults, err error, ts time.Time) {
	e := s.entry(battleID, ts)
	e.UpdatedAt = ts
	e.FinishedAt = &ts
	e.Results = results
	switch {
	case err != nil:
		e.Status = StatusFailed
		e.Error = err.Error()
	case results != nil && results.Aborted:
		e.Status = StatusAborted
	default:
		e.Status = StatusFinished
	}
}

func (s *Store) get(battleID string) (Entry, error) {
	e, ok := s.entries[battleID]
	if !ok {
		return Entry{}, ErrBattleNotFound
	}
	return *e, nil
}

// list は開始時刻の新しい順に返します。
func (s *Store) list() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.BattleID, b.BattleID)
	})
	return out
}
