package timeline

// guard is a counting suppression scope. hold returns the release func so
// callers can write `defer g.hold()()`.
type guard struct {
	n int
}

func (g *guard) hold() func() {
	g.n++
	released := false
	return func() {
		if released {
			return
		}
		released = true
		g.n--
	}
}

func (g *guard) held() bool { return g.n > 0 }
