package application

import (
	"cmp"
	"slices"
)

// robotStats は1ラウンド分の得点材料です。
type robotStats struct {
	survival     float64
	lastSurvivor float64
	bulletDamage float64
	bulletKill   float64
	ramDamage    float64
	ramKill      float64
	shotsFired   int
	bulletHits   int

	bulletTo map[int]float64 // 相手ごとの弾丸ダメージ
	ramTo    map[int]float64 // 相手ごとの体当たりダメージ

	killer      int // とどめを刺したロボット。なければ -1
	killedByRam bool
}

func newRobotStats() robotStats {
	return robotStats{
		bulletTo: make(map[int]float64),
		ramTo:    make(map[int]float64),
		killer:   -1,
	}
}

func (f *Field) stats(id int) *robotStats {
	return &f.roundStats[id]
}

func (f *Field) sameTeam(a, b int) bool {
	ra, rb := f.Robot(a), f.Robot(b)
	return ra != nil && rb != nil && ra.Team == rb.Team
}

func (f *Field) recordBulletHit(ownerID int, victim *RobotState, dealt float64) {
	if f.Robot(ownerID) == nil || f.sameTeam(ownerID, victim.ID) {
		return
	}
	s := f.stats(ownerID)
	s.bulletDamage += dealt
	s.bulletHits++
	s.bulletTo[victim.ID] += dealt
	if victim.Energy <= 0 {
		vs := f.stats(victim.ID)
		vs.killer = ownerID
		vs.killedByRam = false
	}
}

func (f *Field) recordRam(attacker, victim *RobotState) {
	if f.sameTeam(attacker.ID, victim.ID) {
		return
	}
	s := f.stats(attacker.ID)
	s.ramDamage += RobotHitDamage * ScoreRamDamageFactor
	s.ramTo[victim.ID] += RobotHitDamage
	if victim.Energy <= 0 {
		vs := f.stats(victim.ID)
		vs.killer = attacker.ID
		vs.killedByRam = true
	}
}

// recordDeath は生き残った相手に生存点を、とどめを刺したロボットに撃破ボーナスを与えます。
func (f *Field) recordDeath(r *RobotState) {
	f.deathOrder = append(f.deathOrder, r.ID)
	for _, o := range f.AliveRobots() {
		if o.Team != r.Team {
			f.stats(o.ID).survival += ScoreSurvival
		}
	}

	vs := f.stats(r.ID)
	if vs.killer < 0 {
		return
	}
	ks := f.stats(vs.killer)
	if vs.killedByRam {
		ks.ramKill += ks.ramTo[r.ID] * ScoreRamDamageFactor * ScoreRamKillRatio
		return
	}
	ks.bulletKill += ks.bulletTo[r.ID] * ScoreBulletKillRatio
}

func (f *Field) awardLastSurvivor(r *RobotState) {
	opponents := 0
	for _, o := range f.robots {
		if o.Team != r.Team {
			opponents++
		}
	}
	f.stats(r.ID).lastSurvivor += ScoreLastSurvivorBonus * float64(opponents)
}

// RobotResult はバトル全体でのロボットごとの成績です。
type RobotResult struct {
	ID                int     `msgpack:"id" json:"id"`
	Name              string  `msgpack:"name" json:"name"`
	Team              string  `msgpack:"team" json:"team"`
	Rank              int     `msgpack:"rank" json:"rank"`
	Total             float64 `msgpack:"total" json:"total"`
	Survival          float64 `msgpack:"survival" json:"survival"`
	LastSurvivorBonus float64 `msgpack:"last_survivor" json:"lastSurvivorBonus"`
	BulletDamage      float64 `msgpack:"bullet_damage" json:"bulletDamage"`
	BulletKillBonus   float64 `msgpack:"bullet_kill" json:"bulletKillBonus"`
	RamDamage         float64 `msgpack:"ram_damage" json:"ramDamage"`
	RamKillBonus      float64 `msgpack:"ram_kill" json:"ramKillBonus"`
	ShotsFired        int     `msgpack:"shots" json:"shotsFired"`
	BulletHits        int     `msgpack:"hits" json:"bulletHits"`
	Firsts            int     `msgpack:"firsts" json:"firsts"`
	Seconds           int     `msgpack:"seconds" json:"seconds"`
	Thirds            int     `msgpack:"thirds" json:"thirds"`
}

// TeamResult はチーム単位の合計です。単独参加のロボットも1人チームとして数えます。
type TeamResult struct {
	Team    string   `msgpack:"team" json:"team"`
	Rank    int      `msgpack:"rank" json:"rank"`
	Total   float64  `msgpack:"total" json:"total"`
	Members []string `msgpack:"members" json:"members"`
	Firsts  int      `msgpack:"firsts" json:"firsts"`
}

// BattleResults はバトル終了時に Observer へ渡される最終結果です。
type BattleResults struct {
	BattleID string        `msgpack:"battle_id" json:"battleId"`
	Rounds   int           `msgpack:"rounds" json:"rounds"`
	Aborted  bool          `msgpack:"aborted" json:"aborted"`
	Robots   []RobotResult `msgpack:"robots" json:"robots"`
	Teams    []TeamResult  `msgpack:"teams" json:"teams"`
}

// scoreboard はラウンドをまたいで成績を積み上げます。
type scoreboard struct {
	robots []RobotResult
}

func newScoreboard(robots []*RobotState) *scoreboard {
	sb := &scoreboard{robots: make([]RobotResult, len(robots))}
	for i, r := range robots {
		sb.robots[i] = RobotResult{ID: r.ID, Name: r.Name, Team: r.Team}
	}
	return sb
}

func (sb *scoreboard) addRound(robots []*RobotState, stats []robotStats, placement []int) {
	for i := range robots {
		s := stats[i]
		res := &sb.robots[i]
		res.Survival += s.survival
		res.LastSurvivorBonus += s.lastSurvivor
		res.BulletDamage += s.bulletDamage
		res.BulletKillBonus += s.bulletKill
		res.RamDamage += s.ramDamage
		res.RamKillBonus += s.ramKill
		res.ShotsFired += s.shotsFired
		res.BulletHits += s.bulletHits
	}
	for place, id := range placement {
		switch place {
		case 0:
			sb.robots[id].Firsts++
		case 1:
			sb.robots[id].Seconds++
		case 2:
			sb.robots[id].Thirds++
		}
	}
}

// results は合計点で順位付けした成績のコピーを返します。
func (sb *scoreboard) results() []RobotResult {
	out := slices.Clone(sb.robots)
	for i := range out {
		r := &out[i]
		r.Total = r.Survival + r.LastSurvivorBonus + r.BulletDamage + r.BulletKillBonus + r.RamDamage + r.RamKillBonus
	}
	slices.SortStableFunc(out, func(a, b RobotResult) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Firsts, a.Firsts); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// TeamResults はロボットの成績をチームごとに合算します。
func TeamResults(robots []RobotResult) []TeamResult {
	index := make(map[string]int)
	var teams []TeamResult
	for _, r := range robots {
		i, ok := index[r.Team]
		if !ok {
			i = len(teams)
			index[r.Team] = i
			teams = append(teams, TeamResult{Team: r.Team})
		}
		teams[i].Total += r.Total
		teams[i].Members = append(teams[i].Members, r.Name)
		teams[i].Firsts = max(teams[i].Firsts, r.Firsts)
	}
	slices.SortStableFunc(teams, func(a, b TeamResult) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.Team, b.Team)
	})
	for i := range teams {
		teams[i].Rank = i + 1
	}
	return teams
}
