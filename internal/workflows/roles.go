package workflows

// Role is the closed set of workflow stages. Every role has a defined
// outgoing edge set in transitions; the run loop refuses any move outside
// it.
type Role int

const (
	RoleCoordinator Role = iota
	RoleBackgroundInvestigator
	RoleDisambiguator
	RolePlanner
	RoleHumanFeedback
	RoleResearchTeam
	RoleResearcher
	RoleCoder
	RoleReporter
	RoleTerminal
)

var roleNames = map[Role]string{
	RoleCoordinator:            "coordinator",
	RoleBackgroundInvestigator: "background_investigator",
	RoleDisambiguator:          "person_disambiguator",
	RolePlanner:                "planner",
	RoleHumanFeedback:          "human_feedback",
	RoleResearchTeam:           "research_team",
	RoleResearcher:             "researcher",
	RoleCoder:                  "coder",
	RoleReporter:               "reporter",
	RoleTerminal:               "terminal",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return "unknown"
}

// transitions is the exhaustive edge set of the role graph.
var transitions = map[Role][]Role{
	RoleCoordinator:            {RoleDisambiguator, RoleBackgroundInvestigator, RolePlanner, RoleTerminal},
	RoleBackgroundInvestigator: {RolePlanner},
	RoleDisambiguator:          {RoleReporter, RolePlanner, RoleTerminal},
	RolePlanner:                {RoleHumanFeedback, RoleReporter, RoleTerminal},
	RoleHumanFeedback:          {RolePlanner, RoleResearchTeam, RoleTerminal},
	RoleResearchTeam:           {RoleResearcher, RoleCoder, RoleReporter},
	RoleResearcher:             {RoleResearchTeam},
	RoleCoder:                  {RoleResearchTeam},
	RoleReporter:               {RoleTerminal},
	RoleTerminal:               {},
}

// canTransition reports whether from → to is a defined edge.
func canTransition(from, to Role) bool {
	for _, r := range transitions[from] {
		if r == to {
			return true
		}
	}
	return false
}
