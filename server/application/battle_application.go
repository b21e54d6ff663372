package application

import (
	"context"
	"errors"
	"log/slog"

	"battlecore/server/domain"
)

// BattleApplication はバトルをルームに載せる domain.Application です。
// ルームの tick ごとに1ターン進め、記録を観戦者へ配信します。
// リモートロボットがすべて接続されるまではターンを進めません。
type BattleApplication struct {
	battle  *Battle
	remotes []*RemoteController

	last        []byte // 直近のスナップショットメッセージ。途中参加者に送る
	results     []byte
	resultsSent bool
	waiting     bool
}

var (
	_ domain.Application = (*BattleApplication)(nil)
	_ domain.Greeter     = (*BattleApplication)(nil)
)

func NewBattleApplication(battle *Battle, remotes []*RemoteController) *BattleApplication {
	return &BattleApplication{battle: battle, remotes: remotes}
}

func (app *BattleApplication) Battle() *Battle { return app.battle }

// HandleMessage は観戦者からのバトル制御を処理します。
func (app *BattleApplication) HandleMessage(ctx context.Context, sessionID domain.SessionID, data []byte) error {
	frame, err := domain.ParseFrame(data)
	if err != nil {
		return err
	}
	if frame.PayloadHeader.DataType != domain.DataTypeControl {
		slog.WarnContext(ctx, "unexpected data type", "sessionID", sessionID, "dataType", frame.PayloadHeader.DataType)
		return nil
	}
	return app.handleControl(ctx, sessionID, domain.ControlSubType(frame.PayloadHeader.SubType))
}

func (app *BattleApplication) handleControl(ctx context.Context, sessionID domain.SessionID, subType domain.ControlSubType) error {
	switch subType {
	case domain.ControlSubTypePause:
		slog.InfoContext(ctx, "battle paused", "battle", app.battle.ID(), "by", sessionID)
		app.battle.Pause()
	case domain.ControlSubTypeResume:
		slog.InfoContext(ctx, "battle resumed", "battle", app.battle.ID(), "by", sessionID)
		app.battle.Resume()
	case domain.ControlSubTypeStop:
		// ルームのゴルーチンが Step を進めるので、ここでは終了を待たない
		slog.InfoContext(ctx, "battle stop requested", "battle", app.battle.ID(), "by", sessionID)
		app.battle.Stop(false)
	default:
		slog.WarnContext(ctx, "unknown control subtype", "subType", subType)
	}
	return nil
}

// Tick は1ターン進め、配信するメッセージを返します。
func (app *BattleApplication) Tick(ctx context.Context) [][]byte {
	if app.battle.State() == StateBattleEnded {
		return app.flushResults(ctx)
	}
	// 停止要求があればリモートロボットを待たずに Step で終了させる
	if !app.ready() && !app.battle.Stopping() {
		if !app.waiting {
			slog.InfoContext(ctx, "waiting for remote robots", "battle", app.battle.ID())
			app.waiting = true
		}
		return nil
	}
	app.waiting = false

	record, err := app.battle.Step(ctx)
	if err != nil && !errors.Is(err, ErrBattleEnded) {
		slog.ErrorContext(ctx, "battle step failed", "battle", app.battle.ID(), "error", err)
	}
	var out [][]byte
	if record != nil {
		if msg := app.encodeRecord(ctx, record); msg != nil {
			app.last = msg
			out = append(out, msg)
		}
	}
	if app.battle.State() == StateBattleEnded {
		out = append(out, app.flushResults(ctx)...)
	}
	return out
}

// Greet は途中参加した観戦者に直近のスナップショットと、終了していれば結果を送ります。
func (app *BattleApplication) Greet(ctx context.Context, sessionID domain.SessionID) [][]byte {
	var out [][]byte
	if app.last != nil {
		out = append(out, app.last)
	}
	if app.results != nil {
		out = append(out, app.results)
	}
	return out
}

func (app *BattleApplication) ready() bool {
	for _, rc := range app.remotes {
		select {
		case <-rc.Attached():
		default:
			return false
		}
	}
	return true
}

func (app *BattleApplication) encodeRecord(ctx context.Context, record *TurnRecord) []byte {
	payload, err := EncodeTurnRecord(record)
	if err != nil {
		slog.ErrorContext(ctx, "encode turn record failed", "error", err)
		return nil
	}
	msg, err := domain.EncodeMessage(domain.SessionID{}, domain.DataTypeSnapshot, 0, payload)
	if err != nil {
		slog.WarnContext(ctx, "turn record not broadcast", "round", record.Snapshot.Round, "turn", record.Snapshot.Turn, "error", err)
		return nil
	}
	return msg
}

func (app *BattleApplication) flushResults(ctx context.Context) [][]byte {
	if app.resultsSent {
		return nil
	}
	app.resultsSent = true
	results := app.battle.Results()
	if results == nil {
		return nil
	}
	payload, err := EncodeResults(results)
	if err != nil {
		slog.ErrorContext(ctx, "encode results failed", "error", err)
		return nil
	}
	msg, err := domain.EncodeMessage(domain.SessionID{}, domain.DataTypeResults, 0, payload)
	if err != nil {
		slog.ErrorContext(ctx, "results not broadcast", "error", err)
		return nil
	}
	app.results = msg
	return [][]byte{msg}
}
