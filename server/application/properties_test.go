package application

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"testing"

	"pgregory.net/rapid"
)

// script は各ターン各ロボットに与える命令列です。
type script [][][]Command

func commandGen() *rapid.Generator[Command] {
	return rapid.Custom(func(t *rapid.T) Command {
		kind := CommandKind(rapid.IntRange(int(CmdTurnBody), int(CmdStop)).Draw(t, "kind"))
		return Command{
			Kind:  kind,
			Value: rapid.Float64Range(-400, 400).Draw(t, "value"),
			Flag:  rapid.Bool().Draw(t, "flag"),
		}
	})
}

func drawScript(t *rapid.T, robots, turns int) script {
	s := make(script, turns)
	for turn := range s {
		s[turn] = make([][]Command, robots)
		for id := range robots {
			s[turn][id] = rapid.SliceOfN(commandGen(), 0, 4).Draw(t, fmt.Sprintf("cmds[%d][%d]", turn, id))
		}
	}
	return s
}

func propertyRules(t *rapid.T) BattleRules {
	rules := DefaultRules()
	rules.BattlefieldWidth = float64(rapid.IntRange(400, 1000).Draw(t, "width"))
	rules.BattlefieldHeight = float64(rapid.IntRange(400, 1000).Draw(t, "height"))
	rules.Seed = rapid.Uint64().Draw(t, "seed")
	rules.InitialGunHeat = 0
	return rules
}

func propertySpecs(n int) []RobotSpec {
	specs := make([]RobotSpec, n)
	for i := range specs {
		specs[i] = RobotSpec{Name: fmt.Sprintf("r%d", i), Flags: CapAdvanced}
	}
	return specs
}

// play は同じ台本でフィールドを進め、各ターンのスナップショットを返します。
func play(t *rapid.T, rules BattleRules, robots int, s script, parallel bool, check func(before, after *Field)) [][]byte {
	f := NewField(rules, propertySpecs(robots))
	f.SetParallel(parallel)
	f.StartRound(1)

	var out [][]byte
	for _, cmds := range s {
		if f.RoundOver() {
			break
		}
		for id, c := range cmds {
			f.AcceptCommands(id, c)
		}
		before := cloneField(f)
		if err := f.Advance(context.Background()); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if check != nil {
			check(before, f)
		}
		data, err := EncodeSnapshot(f.Snapshot())
		if err != nil {
			t.Fatalf("EncodeSnapshot: %v", err)
		}
		out = append(out, data)
	}
	return out
}

// cloneField は比較に必要な値だけを写します。
func cloneField(f *Field) *Field {
	c := &Field{turn: f.turn}
	for _, r := range f.robots {
		rc := *r
		c.robots = append(c.robots, &rc)
	}
	for _, b := range f.bullets {
		bc := *b
		c.bullets = append(c.bullets, &bc)
	}
	return c
}

func TestProperty_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rules := propertyRules(t)
		robots := rapid.IntRange(2, 5).Draw(t, "robots")
		s := drawScript(t, robots, rapid.IntRange(1, 40).Draw(t, "turns"))

		first := play(t, rules, robots, s, false, nil)
		second := play(t, rules, robots, s, true, nil)
		if len(first) != len(second) {
			t.Fatalf("turns differ: %d vs %d", len(first), len(second))
		}
		for i := range first {
			if !bytes.Equal(first[i], second[i]) {
				t.Fatalf("snapshot at turn %d differs", i+1)
			}
		}
	})
}

func TestProperty_Invariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rules := propertyRules(t)
		robots := rapid.IntRange(2, 5).Draw(t, "robots")
		s := drawScript(t, robots, rapid.IntRange(1, 60).Draw(t, "turns"))
		arena := Rect{MaxX: rules.BattlefieldWidth, MaxY: rules.BattlefieldHeight}

		play(t, rules, robots, s, true, func(before, after *Field) {
			fired := map[int]bool{}
			bonus := map[int]float64{}
			for _, b := range after.bullets {
				if b.Born == after.turn {
					fired[b.OwnerID] = true
				}
				if b.Phase == BulletHitVictim && wasFlying(before, b.ID) {
					if owner := after.robots[b.OwnerID]; owner.IsAlive() {
						bonus[b.OwnerID] += BulletBonus(b.Power)
					}
				}
			}
			for i, r := range after.robots {
				if r.Energy < 0 || math.IsNaN(r.Energy) {
					t.Fatalf("robot %d energy = %v", r.ID, r.Energy)
				}
				if r.IsAlive() && r.Energy <= 0 {
					t.Fatalf("robot %d alive at energy %v", r.ID, r.Energy)
				}
				if r.IsAlive() && !r.Bounds().Within(arena) {
					t.Fatalf("robot %d outside arena at %v", r.ID, r.Position)
				}
				prev := before.robots[i]
				// エネルギーが増えるのは命中ボーナスだけ
				if r.Energy > prev.Energy+bonus[r.ID]+1e-9 {
					t.Fatalf("robot %d energy rose %v -> %v with bonus %v", r.ID, prev.Energy, r.Energy, bonus[r.ID])
				}
				if prev.IsAlive() && !fired[r.ID] {
					want := math.Max(0, prev.GunHeat-rules.GunCoolingRate)
					if want < heatEpsilon {
						want = 0
					}
					if math.Abs(r.GunHeat-want) > 1e-9 {
						t.Fatalf("robot %d gun heat %v -> %v, want %v", r.ID, prev.GunHeat, r.GunHeat, want)
					}
				}
			}

			// 終端状態の弾丸は次のターンで取り除かれる
			alive := map[int]bool{}
			for _, b := range after.bullets {
				alive[b.ID] = true
			}
			for _, b := range before.bullets {
				if b.Phase != BulletFlying && alive[b.ID] {
					t.Fatalf("terminal bullet %d survived to turn %d", b.ID, after.turn)
				}
			}
		})
	})
}

func wasFlying(f *Field, id int) bool {
	for _, b := range f.bullets {
		if b.ID == id {
			return b.Phase == BulletFlying
		}
	}
	return false
}
