package hexbin

// Result is the completion of one summary request. Exactly one of Summary and
// Err is set.
type Result struct {
	Token   Token
	Summary *Summary
	Err     error
}

// Machine is the selection state machine. It is not safe for concurrent use;
// the inspector loop is its only caller.
type Machine struct {
	layer *Layer

	state    State
	selected *Graphic
	token    Token
	gen      uint64
	summary  *Summary
	err      error
}

// NewMachine returns an idle machine highlighting graphics in layer.
func NewMachine(layer *Layer) *Machine {
	return &Machine{layer: layer}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Selected returns the selected graphic, or nil.
func (m *Machine) Selected() *Graphic { return m.selected }

// Token returns the token of the current request. It is the zero Token while
// idle.
func (m *Machine) Token() Token { return m.token }

// Err returns the failure of the current request while in StateFailed.
func (m *Machine) Err() error { return m.err }

// Select moves the machine to StateLoading for g under predicate and returns
// the token the caller must fetch for. fetch is false when g is already
// selected under the same predicate and its summary is loading or loaded.
// A nil g clears the selection.
func (m *Machine) Select(g *Graphic, predicate string) (tok Token, fetch bool) {
	if g == nil {
		m.Clear()
		return Token{}, false
	}
	if m.selected != nil && m.selected.H3 == g.H3 && m.token.Predicate == predicate &&
		(m.state == StateLoading || m.state == StateReady) {
		if m.selected != g {
			m.Rebind(g)
		}
		return m.token, false
	}

	m.layer.setHighlight(m.selected, false)
	m.layer.clearHighlight()
	m.layer.setHighlight(g, true)

	m.gen++
	m.selected = g
	m.token = Token{Generation: m.gen, Hex: g.H3, Predicate: predicate}
	m.state = StateLoading
	m.summary = nil
	m.err = nil
	return m.token, true
}

// Clear drops the selection, its highlight and any summary. It reports whether
// anything was selected.
func (m *Machine) Clear() bool {
	had := m.selected != nil
	m.layer.setHighlight(m.selected, false)
	m.layer.clearHighlight()

	m.gen++
	m.selected = nil
	m.token = Token{}
	m.state = StateIdle
	m.summary = nil
	m.err = nil
	return had
}

// Rebind points the current selection at g, an equivalent graphic from a
// rebuilt collection, and moves the highlight with it. The request token is
// unchanged.
func (m *Machine) Rebind(g *Graphic) {
	if m.selected == nil || g == nil || g.H3 != m.selected.H3 {
		return
	}
	m.layer.setHighlight(m.selected, false)
	m.selected = g
	m.layer.setHighlight(g, true)
}

// Apply performs Loading->Ready or Loading->Failed for r. It returns false,
// leaving the machine untouched, when r belongs to a superseded request.
func (m *Machine) Apply(r Result) bool {
	if m.state != StateLoading || r.Token != m.token {
		return false
	}
	if r.Err != nil {
		m.state = StateFailed
		m.err = r.Err
		m.summary = nil
		return true
	}
	m.state = StateReady
	m.summary = r.Summary
	return true
}

// View projects the machine for the UI. The summary is only exposed in
// StateReady, which always belongs to the selected hexbin.
func (m *Machine) View() View {
	v := View{State: m.state, Predicate: m.token.Predicate}
	if m.selected == nil {
		return v
	}
	v.SelectedHexID = m.selected.H3
	v.PointCount = m.selected.Count
	switch m.state {
	case StateReady:
		v.Summary = m.summary
	case StateFailed:
		v.LoadError = true
	}
	return v
}
