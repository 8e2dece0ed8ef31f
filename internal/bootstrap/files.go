// Package bootstrap owns the agent's self-description files: seeding them
// into a fresh workspace, serving them (cached, watched) to the system
// prompt builder, and promoting reflections into edits of them.
package bootstrap

// Workspace bootstrap file names.
const (
	AgentsFile    = "AGENTS.md"
	SoulFile      = "SOUL.md"
	IdentityFile  = "IDENTITY.md"
	ToolsFile     = "TOOLS.md"
	HeartbeatFile = "HEARTBEAT.md"
)

// PersonaFiles are the files loaded into the system prompt, in load order.
// HEARTBEAT.md is read by the heartbeat service instead.
var PersonaFiles = []string{AgentsFile, SoulFile, IdentityFile, ToolsFile}

// DefaultSections maps each promotable file to the section heading the
// promoter appends under when a proposal names none.
var DefaultSections = map[string]string{
	AgentsFile:   "## Self-Improvements from Reflection",
	SoulFile:     "## Learned Behaviors",
	IdentityFile: "## Identity Notes",
	ToolsFile:    "## Tool Usage Notes",
}

// workspaceDirs is the directory skeleton seeded next to the bootstrap
// files. The stores create these too; seeding them up front makes a fresh
// workspace browsable before the first message arrives.
var workspaceDirs = []string{
	"memory/facts",
	"memory/decisions",
	"memory/goals",
	"memory/goals/archived",
	"memory/tasks",
	"memory/tasks/archived",
	"memory/reflections",
	"journal",
	"sessions",
}
