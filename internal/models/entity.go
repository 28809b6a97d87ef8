package models

// Entity types mirrored from the source of record. Each has its own
// cache table, sync settings row, and Notion database id.
const (
	EntityTask    = "task"
	EntityProject = "project"
	EntityMember  = "member"
	EntityTeam    = "team"
	EntityClient  = "client"
)

func AllEntityTypes() []string {
	return []string{EntityTask, EntityProject, EntityMember, EntityTeam, EntityClient}
}

func ValidEntityType(t string) bool {
	switch t {
	case EntityTask, EntityProject, EntityMember, EntityTeam, EntityClient:
		return true
	}
	return false
}
