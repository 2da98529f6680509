package lifecycle

// TransitionRule describes one legal (from, to) edge. Roles gates who may
// take the edge (empty = anyone, RoleAdmin and RoleSystem always pass).
// Hooks are side-effect names carried on the published event for
// subscribers to key off.
type TransitionRule struct {
	From  State
	To    State
	Roles []Role
	Hooks []string
}

// permits reports whether the given role satisfies the rule's gate.
func (r TransitionRule) permits(role Role) bool {
	if role == RoleAdmin || role == RoleSystem {
		return true
	}
	if len(r.Roles) == 0 {
		return true
	}
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// TransitionTable is the static, versioned edge set. Loaded at process start;
// the version is stamped onto every audit row so history remains
// interpretable after table changes.
type TransitionTable struct {
	version int
	edges   map[State]map[State]TransitionRule
}

// NewTransitionTable builds a table from explicit rules. Rules naming
// unknown states or edges out of a terminal state are rejected at
// construction so a bad table can never reach the engine.
func NewTransitionTable(version int, rules []TransitionRule) (*TransitionTable, error) {
	t := &TransitionTable{
		version: version,
		edges:   make(map[State]map[State]TransitionRule),
	}
	for _, rule := range rules {
		if err := t.add(rule); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *TransitionTable) add(rule TransitionRule) error {
	if !rule.From.Valid() {
		return errInvalidTableState(rule.From)
	}
	if !rule.To.Valid() {
		return errInvalidTableState(rule.To)
	}
	if rule.From.Terminal() {
		return errTerminalEdge(rule.From, rule.To)
	}
	if t.edges[rule.From] == nil {
		t.edges[rule.From] = make(map[State]TransitionRule)
	}
	t.edges[rule.From][rule.To] = rule
	return nil
}

// Version returns the table version stamped onto audit rows.
func (t *TransitionTable) Version() int {
	return t.version
}

// Rule looks up the edge (from, to).
func (t *TransitionTable) Rule(from, to State) (TransitionRule, bool) {
	rule, ok := t.edges[from][to]
	return rule, ok
}

// AllowedFrom returns the target states reachable from the given state by an
// actor with the given role, in AllStates order.
func (t *TransitionTable) AllowedFrom(from State, role Role) []State {
	targets := t.edges[from]
	if len(targets) == 0 {
		return nil
	}
	var allowed []State
	for _, to := range AllStates {
		if rule, ok := targets[to]; ok && rule.permits(role) {
			allowed = append(allowed, to)
		}
	}
	return allowed
}

// DefaultTable is the production edge set. Cancellation is the universal
// escape hatch: it is added from every non-terminal state.
func DefaultTable() *TransitionTable {
	rules := []TransitionRule{
		// Intake
		{From: StateDraft, To: StateNeedsPermit, Roles: []Role{RoleSales, RoleOffice}},
		{From: StateDraft, To: StateWaitingOnClient, Roles: []Role{RoleSales, RoleOffice}},
		{From: StateDraft, To: StateScheduled, Roles: []Role{RoleSales, RoleDispatch, RoleOffice}, Hooks: []string{"notify_client"}},
		{From: StateNeedsPermit, To: StateWaitingOnClient, Roles: []Role{RoleSales, RoleOffice}},
		{From: StateNeedsPermit, To: StateScheduled, Roles: []Role{RoleSales, RoleDispatch, RoleOffice}, Hooks: []string{"notify_client"}},
		{From: StateWaitingOnClient, To: StateDraft, Roles: []Role{RoleSales, RoleOffice}},
		{From: StateWaitingOnClient, To: StateScheduled, Roles: []Role{RoleSales, RoleDispatch, RoleOffice}, Hooks: []string{"notify_client"}},

		// Field execution
		{From: StateScheduled, To: StateEnRoute, Roles: []Role{RoleCrew, RoleDispatch}},
		{From: StateScheduled, To: StateInProgress, Roles: []Role{RoleCrew, RoleDispatch}},
		{From: StateScheduled, To: StateWeatherHold, Roles: []Role{RoleCrew, RoleDispatch}},
		{From: StateEnRoute, To: StateOnSite, Roles: []Role{RoleCrew}},
		{From: StateEnRoute, To: StateWeatherHold, Roles: []Role{RoleCrew, RoleDispatch}},
		{From: StateOnSite, To: StateInProgress, Roles: []Role{RoleCrew}},
		{From: StateOnSite, To: StateWeatherHold, Roles: []Role{RoleCrew, RoleDispatch}},
		{From: StateWeatherHold, To: StateScheduled, Roles: []Role{RoleDispatch, RoleOffice}, Hooks: []string{"notify_client"}},
		{From: StateInProgress, To: StateWeatherHold, Roles: []Role{RoleCrew, RoleDispatch}},
		{From: StateInProgress, To: StateCompleted, Roles: []Role{RoleCrew, RoleDispatch}},

		// Billing
		{From: StateCompleted, To: StateInvoiced, Roles: []Role{RoleOffice}},
		{From: StateInvoiced, To: StatePaid, Roles: []Role{RoleOffice}},
	}

	// Universal cancellation edge from every non-terminal state.
	for _, from := range AllStates {
		if from.Terminal() {
			continue
		}
		rules = append(rules, TransitionRule{
			From:  from,
			To:    StateCancelled,
			Roles: []Role{RoleSales, RoleDispatch, RoleOffice},
			Hooks: []string{"notify_client"},
		})
	}

	table, err := NewTransitionTable(1, rules)
	if err != nil {
		// Static table, construction failure is a programming error.
		panic(err)
	}
	return table
}
