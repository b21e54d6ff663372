package application

// resolveScans はレーダーが動いたロボット、または再スキャンを要求したロボットについて
// 掃引扇形と他ロボットの当たり判定矩形を照合します。各スキャンは互いに独立です。
func (f *Field) resolveScans() {
	alive := f.AliveRobots()
	for _, r := range alive {
		if r.Flags.Has(CapDroid) {
			continue
		}
		rescan := r.Intent.Rescan
		r.Intent.Rescan = false

		sweep := r.radarSweep
		if sweep == 0 && !rescan {
			continue
		}
		from := r.LastRadarHeading
		if sweep == 0 {
			// 再スキャンは直前の掃引範囲をもう一度見る
			sweep = r.prevSweep
			from = r.RadarHeading - sweep
		}
		sector := NewSweep(r.Position, RadarScanRadius, from, sweep)

		for _, target := range alive {
			if target.ID == r.ID || !sector.IntersectsRect(target.Bounds()) {
				continue
			}
			f.emit(r.ID, ScannedRobotEvent{
				EventHeader: EventHeader{T: f.turn},
				Name:        target.Name,
				Bearing:     NormalRelativeAngle(r.Position.Heading(target.Position) - r.BodyHeading),
				Distance:    r.Position.Dist(target.Position),
				Heading:     target.BodyHeading,
				Velocity:    target.Velocity,
				Energy:      target.Energy,
			})
		}
	}
}
