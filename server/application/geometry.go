package application

import (
	"math"

	"battlecore/utils"
)

const epsilon = 1e-9

// Vec2 はバトルフィールド上の連続座標です。y は上向き、方位 0 は北。
type Vec2 struct {
	X, Y float64
}

func (v Vec2) Add(o Vec2) Vec2        { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2        { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }
func (v Vec2) Scale(k float64) Vec2   { return Vec2{X: v.X * k, Y: v.Y * k} }
func (v Vec2) Len() float64           { return math.Hypot(v.X, v.Y) }
func (v Vec2) Dist(o Vec2) float64    { return v.Sub(o).Len() }
func (v Vec2) Cross(o Vec2) float64   { return v.X*o.Y - v.Y*o.X }
func (v Vec2) IsFinite() bool         { return utils.IsFinite(v.X) && utils.IsFinite(v.Y) }
func (v Vec2) Equal(o Vec2) bool      { return math.Abs(v.X-o.X) < epsilon && math.Abs(v.Y-o.Y) < epsilon }
func (v Vec2) Heading(o Vec2) float64 { return math.Atan2(o.X-v.X, o.Y-v.Y) }

// Project は方位 heading へ distance 進んだ位置を返します。
func (v Vec2) Project(heading, distance float64) Vec2 {
	return Vec2{X: v.X + math.Sin(heading)*distance, Y: v.Y + math.Cos(heading)*distance}
}

// Rect は軸平行な矩形です。
type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

// RobotBounds はロボット中心から当たり判定矩形を返します。
func RobotBounds(center Vec2) Rect {
	return Rect{
		MinX: center.X - RobotHalfSize,
		MinY: center.Y - RobotHalfSize,
		MaxX: center.X + RobotHalfSize,
		MaxY: center.Y + RobotHalfSize,
	}
}

func (r Rect) Contains(p Vec2) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

func (r Rect) Intersects(o Rect) bool {
	return r.MinX < o.MaxX && o.MinX < r.MaxX && r.MinY < o.MaxY && o.MinY < r.MaxY
}

// Within は r が outer に完全に含まれるかを返します。
func (r Rect) Within(outer Rect) bool {
	return r.MinX >= outer.MinX-epsilon && r.MaxX <= outer.MaxX+epsilon &&
		r.MinY >= outer.MinY-epsilon && r.MaxY <= outer.MaxY+epsilon
}

// Corners は左下から反時計回りの4頂点です。
func (r Rect) Corners() [4]Vec2 {
	return [4]Vec2{
		{X: r.MinX, Y: r.MinY},
		{X: r.MaxX, Y: r.MinY},
		{X: r.MaxX, Y: r.MaxY},
		{X: r.MinX, Y: r.MaxY},
	}
}

// Edges は4辺を線分として返します。
func (r Rect) Edges() [4]Segment {
	c := r.Corners()
	return [4]Segment{{c[0], c[1]}, {c[1], c[2]}, {c[2], c[3]}, {c[3], c[0]}}
}

// Segment は線分 A→B です。
type Segment struct {
	A, B Vec2
}

// Intersects は2線分が交差（端点接触を含む）するかを返します。
func (s Segment) Intersects(o Segment) bool {
	d1 := orientation(o.A, o.B, s.A)
	d2 := orientation(o.A, o.B, s.B)
	d3 := orientation(s.A, s.B, o.A)
	d4 := orientation(s.A, s.B, o.B)

	if ((d1 > epsilon && d2 < -epsilon) || (d1 < -epsilon && d2 > epsilon)) &&
		((d3 > epsilon && d4 < -epsilon) || (d3 < -epsilon && d4 > epsilon)) {
		return true
	}
	switch {
	case math.Abs(d1) <= epsilon && onSegment(o.A, o.B, s.A):
		return true
	case math.Abs(d2) <= epsilon && onSegment(o.A, o.B, s.B):
		return true
	case math.Abs(d3) <= epsilon && onSegment(s.A, s.B, o.A):
		return true
	case math.Abs(d4) <= epsilon && onSegment(s.A, s.B, o.B):
		return true
	}
	return false
}

// IntersectsRect は線分が矩形の内部または境界に触れるかを返します。
// 長さ0の線分は点として扱います。
func (s Segment) IntersectsRect(r Rect) bool {
	if r.Contains(s.A) || r.Contains(s.B) {
		return true
	}
	for _, e := range r.Edges() {
		if s.Intersects(e) {
			return true
		}
	}
	return false
}

// EntryRect は線分が矩形に最初に触れる位置を A からの割合 t∈[0,1] で返します。
// A が矩形内にあれば 0 です。触れなければ ok は false です。
func (s Segment) EntryRect(r Rect) (t float64, ok bool) {
	d := s.B.Sub(s.A)
	lo, hi := 0.0, 1.0
	clip := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		v := q / p
		if p < 0 {
			lo = math.Max(lo, v)
		} else {
			hi = math.Min(hi, v)
		}
		return lo <= hi
	}
	if clip(-d.X, s.A.X-r.MinX) && clip(d.X, r.MaxX-s.A.X) &&
		clip(-d.Y, s.A.Y-r.MinY) && clip(d.Y, r.MaxY-s.A.Y) {
		return lo, true
	}
	return 0, false
}

func orientation(a, b, c Vec2) float64 {
	return b.Sub(a).Cross(c.Sub(a))
}

func onSegment(a, b, p Vec2) bool {
	return p.X >= math.Min(a.X, b.X)-epsilon && p.X <= math.Max(a.X, b.X)+epsilon &&
		p.Y >= math.Min(a.Y, b.Y)-epsilon && p.Y <= math.Max(a.Y, b.Y)+epsilon
}

// PointInPolygon は偶奇規則で点が多角形の内側にあるかを判定します。
func PointInPolygon(p Vec2, poly []Vec2) bool {
	inside := false
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

// Sector はレーダーが1ターンで掃いた扇形です。
// Start から時計回りに Extent(rad, 0以上) だけ広がります。
type Sector struct {
	Center Vec2
	Radius float64
	Start  float64
	Extent float64
}

// NewSweep は方位 from から delta だけ回転したときに掃かれる扇形を作ります。
// 回転方向に関係なく、小さい側の方位から時計回りの扇形に正規化します。
func NewSweep(center Vec2, radius, from, delta float64) Sector {
	start := from
	if delta < 0 {
		start = from + delta
	}
	return Sector{Center: center, Radius: radius, Start: NormalAbsoluteAngle(start), Extent: math.Abs(delta)}
}

// ContainsAngle は方位 h が扇形の角度範囲内かを返します。
func (s Sector) ContainsAngle(h float64) bool {
	if s.Extent >= 2*math.Pi {
		return true
	}
	d := NormalAbsoluteAngle(h - s.Start)
	return d <= s.Extent+epsilon || d >= 2*math.Pi-epsilon
}

// ContainsPoint は点が扇形の内部にあるかを返します。
func (s Sector) ContainsPoint(p Vec2) bool {
	d := s.Center.Dist(p)
	if d > s.Radius+epsilon {
		return false
	}
	if d < epsilon {
		return true
	}
	return s.ContainsAngle(s.Center.Heading(p))
}

// IntersectsRect は扇形と矩形が重なるかを判定します。
// 頂点包含、半径線分と辺の交差、円弧と辺の交差の3通りを調べます。
func (s Sector) IntersectsRect(r Rect) bool {
	for _, c := range r.Corners() {
		if s.ContainsPoint(c) {
			return true
		}
	}
	if r.Contains(s.Center) {
		return true
	}
	edgeStart := Segment{A: s.Center, B: s.Center.Project(s.Start, s.Radius)}
	edgeEnd := Segment{A: s.Center, B: s.Center.Project(s.Start+s.Extent, s.Radius)}
	if edgeStart.IntersectsRect(r) || edgeEnd.IntersectsRect(r) {
		return true
	}
	for _, e := range r.Edges() {
		for _, p := range circleSegmentIntersections(s.Center, s.Radius, e) {
			if s.ContainsAngle(s.Center.Heading(p)) {
				return true
			}
		}
	}
	return false
}

func circleSegmentIntersections(c Vec2, radius float64, seg Segment) []Vec2 {
	d := seg.B.Sub(seg.A)
	f := seg.A.Sub(c)
	a := d.X*d.X + d.Y*d.Y
	if a < epsilon {
		return nil
	}
	b := 2 * (f.X*d.X + f.Y*d.Y)
	cc := f.X*f.X + f.Y*f.Y - radius*radius
	disc := b*b - 4*a*cc
	if disc < 0 {
		return nil
	}
	sq := math.Sqrt(disc)
	var out []Vec2
	for _, t := range [2]float64{(-b - sq) / (2 * a), (-b + sq) / (2 * a)} {
		if t >= 0 && t <= 1 {
			out = append(out, seg.A.Add(d.Scale(t)))
		}
	}
	return out
}

// NormalAbsoluteAngle は角度を [0, 2π) に正規化します。
func NormalAbsoluteAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// NormalRelativeAngle は角度を [-π, π) に正規化します。
func NormalRelativeAngle(a float64) float64 {
	a = NormalAbsoluteAngle(a)
	if a >= math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
