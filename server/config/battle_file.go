package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"battlecore/server/application"

	"github.com/BurntSushi/toml"
)

var ErrInvalidBattleFile = errors.New("invalid battle file")

// RobotKind は設定ファイルで選べるロボットの種類です。
type RobotKind string

const (
	KindRemote  RobotKind = "remote"
	KindRule    RobotKind = "rule"
	KindSpinner RobotKind = "spinner"
	KindDuck    RobotKind = "duck"
)

// RobotEntry は [[robots]] の1件です。
type RobotEntry struct {
	Name         string    `toml:"name"`
	Team         string    `toml:"team"`
	Kind         RobotKind `toml:"kind"`
	Capabilities []string  `toml:"capabilities"`
	Seed         uint64    `toml:"seed"`
	Power        float64   `toml:"power"`
	X            *float64  `toml:"x"`
	Y            *float64  `toml:"y"`
	Heading      *float64  `toml:"heading"`
}

// EngineSettings はエンジンの実行設定です。
type EngineSettings struct {
	TurnTimeout  time.Duration `toml:"turn_timeout"`
	TurnInterval time.Duration `toml:"turn_interval"`
	StopGrace    time.Duration `toml:"stop_grace"`
	Sequential   bool          `toml:"sequential"`
}

// BattleFile はバトル定義ファイルの内容です。
type BattleFile struct {
	Rules  application.BattleRules `toml:"rules"`
	Engine EngineSettings          `toml:"engine"`
	Robots []RobotEntry            `toml:"robots"`
}

// DefaultBattle は設定ファイルがないときの標準のバトルです。ルールボット2体とスピナー1体が戦います。
func DefaultBattle() BattleFile {
	return BattleFile{
		Rules: application.DefaultRules(),
		Robots: []RobotEntry{
			{Name: "rule-1", Kind: KindRule, Seed: 1, Capabilities: []string{"advanced"}},
			{Name: "rule-2", Kind: KindRule, Seed: 2, Capabilities: []string{"advanced"}},
			{Name: "spinner", Kind: KindSpinner, Power: 1},
		},
	}
}

// LoadBattleFile は path を読みます。空なら DefaultBattle を返します。
func LoadBattleFile(path string) (BattleFile, error) {
	if path == "" {
		return DefaultBattle(), nil
	}
	bf := DefaultBattle()
	bf.Robots = nil
	md, err := toml.DecodeFile(path, &bf)
	if err != nil {
		return BattleFile{}, fmt.Errorf("%w: %w", ErrInvalidBattleFile, err)
	}
	return bf, checkUndecoded(md)
}

// DecodeBattleFile は r から読みます。省略された値は DefaultBattle のものになります。
func DecodeBattleFile(r io.Reader) (BattleFile, error) {
	bf := DefaultBattle()
	bf.Robots = nil
	md, err := toml.NewDecoder(r).Decode(&bf)
	if err != nil {
		return BattleFile{}, fmt.Errorf("%w: %w", ErrInvalidBattleFile, err)
	}
	return bf, checkUndecoded(md)
}

func checkUndecoded(md toml.MetaData) error {
	if keys := md.Undecoded(); len(keys) > 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return fmt.Errorf("%w: unknown keys %s", ErrInvalidBattleFile, strings.Join(names, ", "))
	}
	return nil
}

// Options は opts に engine セクションの値を上書きします。
func (bf BattleFile) Options(opts application.Options) application.Options {
	if bf.Engine.TurnTimeout > 0 {
		opts.TurnTimeout = bf.Engine.TurnTimeout
	}
	if bf.Engine.TurnInterval > 0 {
		opts.TurnInterval = bf.Engine.TurnInterval
	}
	if bf.Engine.StopGrace > 0 {
		opts.StopGrace = bf.Engine.StopGrace
	}
	if bf.Engine.Sequential {
		opts.Parallel = false
	}
	return opts
}

// Roster は設定からロボットを組み立てます。remote のロボットは接続待ちの RemoteController になり、
// 名前をキーにした表でも返します。
func (bf BattleFile) Roster() ([]application.RobotSpec, map[string]*application.RemoteController, error) {
	if len(bf.Robots) == 0 {
		return nil, nil, fmt.Errorf("%w: no robots", ErrInvalidBattleFile)
	}
	specs := make([]application.RobotSpec, 0, len(bf.Robots))
	remotes := make(map[string]*application.RemoteController)
	for i, e := range bf.Robots {
		spec, err := e.spec()
		if err != nil {
			return nil, nil, fmt.Errorf("robots[%d]: %w", i, err)
		}
		if rc, ok := spec.Controller.(*application.RemoteController); ok {
			if _, dup := remotes[e.Name]; dup {
				return nil, nil, fmt.Errorf("%w: robots[%d]: duplicate remote robot %q", ErrInvalidBattleFile, i, e.Name)
			}
			remotes[e.Name] = rc
		}
		specs = append(specs, spec)
	}
	return specs, remotes, nil
}

func (e RobotEntry) spec() (application.RobotSpec, error) {
	if e.Name == "" {
		return application.RobotSpec{}, fmt.Errorf("%w: name is required", ErrInvalidBattleFile)
	}
	var flags application.RobotFlags
	for _, name := range e.Capabilities {
		c, ok := application.ParseCapability(name)
		if !ok {
			return application.RobotSpec{}, fmt.Errorf("%w: unknown capability %q", ErrInvalidBattleFile, name)
		}
		flags |= c
	}

	spec := application.RobotSpec{Name: e.Name, Team: e.Team, Flags: flags, Heading: e.Heading}
	switch {
	case e.X != nil && e.Y != nil:
		spec.Start = &application.Vec2{X: *e.X, Y: *e.Y}
	case e.X != nil || e.Y != nil:
		return application.RobotSpec{}, fmt.Errorf("%w: %s: x and y must be set together", ErrInvalidBattleFile, e.Name)
	}

	switch e.Kind {
	case KindRemote:
		spec.Controller = application.NewRemoteController(e.Name)
	case KindRule, "":
		spec.Controller = application.NewRuleBot(e.Seed)
	case KindSpinner:
		power := e.Power
		if power == 0 {
			power = 1
		}
		spec.Controller = application.Spinner{Power: power}
	case KindDuck:
		spec.Controller = application.SittingDuck{}
	default:
		return application.RobotSpec{}, fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidBattleFile, e.Name, e.Kind)
	}
	return spec, nil
}
