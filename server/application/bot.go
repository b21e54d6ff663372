package application

import "context"

// Controller はロボットの意思決定インターフェースです。
// Run はラウンドごとに専用のゴルーチンで呼ばれ、api.Execute でターンを進めます。
// Run がエラーを返すか panic すると故障として数えられ、次のターンから Run が再開されます。
//
//go:generate go tool mockgen -source=bot.go -destination=mocks/mock_bot.go -package=mocks
type Controller interface {
	Run(ctx context.Context, api *RobotAPI) error
}

// ControllerFunc は関数を Controller として扱うためのアダプタです。
type ControllerFunc func(ctx context.Context, api *RobotAPI) error

func (f ControllerFunc) Run(ctx context.Context, api *RobotAPI) error { return f(ctx, api) }

// RobotSpec はバトルに参加するロボットの定義です。
// Start と Heading を指定すると、毎ラウンドその位置と方位から開始します。
type RobotSpec struct {
	Name       string
	Team       string
	Flags      RobotFlags
	Controller Controller
	Start      *Vec2
	Heading    *float64
}
